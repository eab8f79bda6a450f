package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeError(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Fatal error: Uncaught Exception in /var/www/app.php:123", true},
		{"fatal error: unexpectedly found nil while unwrapping an Optional value", true},
		{"TypeError: Cannot read property 'id' of undefined", true},
		{"Uncaught ReferenceError: foo is not defined", true},
		{"java.lang.NullPointerException", true},
		{"Error: ENOENT: no such file or directory", true},
		{"panic: runtime error: index out of range", true},
		{"Traceback (most recent call last):", true},
		{"Minified React error #185", true},
		{"undefined is not an object (evaluating 'a.b')", true},
		{"Thread 1: EXC_BAD_ACCESS (code=1)", true},
		{"E/AndroidRuntime: FATAL EXCEPTION: main", true},
		{"[ERROR] request failed", true},
		{"Login button unresponsive", false},
		{"The page shows an error message", false},
		{"Tap the Error tab", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeError(tt.line))
		})
	}
}

func TestErrorLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty",
			text: "",
			want: nil,
		},
		{
			name: "php fatal in prose",
			text: "The site died.\nFatal error: Uncaught Exception in /var/www/app.php:123\nPlease help.",
			want: []string{"Fatal error: Uncaught Exception in /var/www/app.php:123"},
		},
		{
			name: "log section keeps every line",
			text: "## Logs\nGET /api/cart 500\nretrying...\n## Expected\nno errors",
			want: []string{"GET /api/cart 500", "retrying..."},
		},
		{
			name: "fenced stack trace ends the section",
			text: "Stack trace:\n```\nTraceback (most recent call last):\n  File \"app.py\", line 3\nKeyError: 'id'\n```\nThanks!",
			want: []string{"Traceback (most recent call last):", "File \"app.py\", line 3", "KeyError: 'id'"},
		},
		{
			name: "inline error after a heading label",
			text: "Actual: app shows TypeError: x is undefined",
			want: []string{"app shows TypeError: x is undefined"},
		},
		{
			name: "duplicates removed",
			text: "Error: boom\n- Error: boom\n",
			want: []string{"Error: boom"},
		},
		{
			name: "list markers stripped",
			text: "Errors:\n- NullPointerException at Foo.kt:12\n",
			want: []string{"NullPointerException at Foo.kt:12"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorLines(tt.text))
		})
	}
}

func TestImageLinks(t *testing.T) {
	text := "Before ![shot](https://cdn.example.com/a.png \"title\") and ![](<https://cdn.example.com/b>)\n" +
		"bare: https://cdn.example.com/c.JPG, and (https://cdn.example.com/d.webp?x=1).\n" +
		"not an image: https://cdn.example.com/readme.txt"

	assert.Equal(t, []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b",
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/c.JPG",
		"https://cdn.example.com/d.webp?x=1",
	}, ImageLinks(text))
}
