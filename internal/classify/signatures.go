package classify

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Technology labels produced by the default signature table.
const (
	LabelPHP        = "PHP"
	LabelTypeScript = "TypeScript"
	LabelReact      = "React"
	LabelSwift      = "Swift"
	LabelKotlin     = "Kotlin"
	LabelPython     = "Python"
	LabelGo         = "Go"
	LabelJava       = "Java"
	LabelRuby       = "Ruby"
	LabelDotNet     = ".NET"
	LabelRust       = "Rust"
	LabelNode       = "Node.js"
)

// Kind is how a signature pattern is matched.
type Kind string

const (
	// KindSubstring matches a case-sensitive substring.
	KindSubstring Kind = "substring"
	// KindRegex matches a Go regular expression.
	KindRegex Kind = "regex"
	// KindPath matches a doublestar glob against path-like substrings.
	KindPath Kind = "path"
)

// Signature maps a text pattern to a technology label.
type Signature struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Label   string `yaml:"label" json:"label"`
	Kind    Kind   `yaml:"kind,omitempty" json:"kind"`

	re *regexp.Regexp
}

// String identifies the signature in candidate evidence.
func (s Signature) String() string {
	return string(s.Kind) + ":" + s.Pattern
}

// compile validates s and prepares it for matching.
func (s *Signature) compile() error {
	if strings.TrimSpace(s.Pattern) == "" {
		return fmt.Errorf("pattern is required")
	}
	if strings.TrimSpace(s.Label) == "" {
		return fmt.Errorf("label is required for pattern %q", s.Pattern)
	}
	if s.Kind == "" {
		s.Kind = KindSubstring
	}
	switch s.Kind {
	case KindSubstring:
	case KindRegex:
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex %q: %w", s.Pattern, err)
		}
		s.re = re
	case KindPath:
		if !doublestar.ValidatePattern(s.Pattern) {
			return fmt.Errorf("invalid path glob %q", s.Pattern)
		}
	default:
		return fmt.Errorf("unknown kind %q for pattern %q (valid: substring, regex, path)", s.Kind, s.Pattern)
	}
	return nil
}

// matchText reports whether a text signature matches evidence.
func (s *Signature) matchText(evidence string) bool {
	switch s.Kind {
	case KindSubstring:
		return strings.Contains(evidence, s.Pattern)
	case KindRegex:
		return s.re != nil && s.re.MatchString(evidence)
	}
	return false
}

// matchPath reports whether a path signature matches a normalized path.
func (s *Signature) matchPath(path string) bool {
	if s.Kind != KindPath {
		return false
	}
	ok, err := doublestar.Match(s.Pattern, path)
	return err == nil && ok
}

func sub(pattern, label string) Signature {
	return Signature{Pattern: pattern, Label: label, Kind: KindSubstring}
}
func rx(pattern, label string) Signature {
	return Signature{Pattern: pattern, Label: label, Kind: KindRegex}
}
func glob(pattern, label string) Signature {
	return Signature{Pattern: pattern, Label: label, Kind: KindPath}
}

// DefaultSignatures returns the built-in signature table, in evaluation order.
func DefaultSignatures() []Signature {
	return []Signature{
		// PHP
		sub("Fatal error", LabelPHP),
		sub("Parse error: syntax error", LabelPHP),
		sub("PHP Warning:", LabelPHP),
		sub("PHP Notice:", LabelPHP),
		sub("Call to undefined function", LabelPHP),
		sub("Allowed memory size of", LabelPHP),

		// TypeScript / browser JavaScript
		sub("undefined is not an object", LabelTypeScript),
		sub("Cannot read propert", LabelTypeScript),
		sub("Uncaught TypeError", LabelTypeScript),
		sub("Uncaught ReferenceError", LabelTypeScript),
		sub("ChunkLoadError", LabelTypeScript),
		rx(`TypeError: .+ is not a function`, LabelTypeScript),
		rx(`(?i)unhandled promise rejection`, LabelTypeScript),

		// React
		sub("Minified React error", LabelReact),
		sub("Invalid hook call", LabelReact),
		sub("Hydration failed", LabelReact),
		sub("React will try to recreate this component tree", LabelReact),

		// Swift / iOS
		sub("fatal error: unexpectedly found nil", LabelSwift),
		rx(`(?i)fatal error: unexpectedly found nil`, LabelSwift),
		sub("EXC_BAD_ACCESS", LabelSwift),
		sub("unrecognized selector sent to instance", LabelSwift),
		sub("NSInvalidArgumentException", LabelSwift),
		sub("NSInternalInconsistencyException", LabelSwift),

		// Kotlin / Android
		sub("NullPointerException", LabelKotlin),
		sub("UninitializedPropertyAccessException", LabelKotlin),
		sub("E/AndroidRuntime", LabelKotlin),
		sub("kotlin.", LabelKotlin),

		// Python
		sub("Traceback (most recent call last)", LabelPython),
		rx(`File "[^"]+\.py", line \d+`, LabelPython),
		sub("ModuleNotFoundError", LabelPython),
		sub("IndentationError", LabelPython),
		rx(`\bNameError: name '`, LabelPython),
		rx(`\bAttributeError: '`, LabelPython),

		// Go
		sub("panic: ", LabelGo),
		rx(`goroutine \d+ \[running\]`, LabelGo),
		sub("invalid memory address or nil pointer dereference", LabelGo),

		// Java
		sub("Exception in thread \"", LabelJava),
		sub("java.lang.", LabelJava),
		sub("ClassNotFoundException", LabelJava),
		rx(`at [\w$.]+\([\w$]+\.java:\d+\)`, LabelJava),

		// Ruby
		sub("NoMethodError", LabelRuby),
		sub("undefined method `", LabelRuby),
		sub("ActiveRecord::", LabelRuby),
		rx(`\.rb:\d+:in `, LabelRuby),

		// .NET
		sub("System.NullReferenceException", LabelDotNet),
		sub("Object reference not set to an instance of an object", LabelDotNet),
		sub("Unhandled exception. System.", LabelDotNet),

		// Rust
		rx(`thread '[^']+' panicked at`, LabelRust),
		sub("called `Option::unwrap()` on a `None` value", LabelRust),
		sub("called `Result::unwrap()` on an `Err` value", LabelRust),

		// Node.js
		sub("ECONNREFUSED", LabelNode),
		sub("Cannot find module '", LabelNode),
		sub("ERR_MODULE_NOT_FOUND", LabelNode),
		rx(`\(node:internal/`, LabelNode),

		// Source paths
		glob("**/*.php", LabelPHP),
		glob("**/*.swift", LabelSwift),
		glob("**/*.kt", LabelKotlin),
		glob("**/*.kts", LabelKotlin),
		glob("**/*.java", LabelJava),
		glob("**/*.py", LabelPython),
		glob("**/*.go", LabelGo),
		glob("**/*.rb", LabelRuby),
		glob("**/*.cs", LabelDotNet),
		glob("**/*.rs", LabelRust),
		glob("**/*.ts", LabelTypeScript),
		glob("**/*.tsx", LabelTypeScript),
		glob("**/*.tsx", LabelReact),
		glob("**/*.jsx", LabelReact),
		glob("**/*.js", LabelTypeScript),
		glob("**/*.mjs", LabelNode),
		glob("**/node_modules/**", LabelNode),
	}
}

// signatureFile is the on-disk format for extra signatures.
type signatureFile struct {
	Signatures []Signature `yaml:"signatures"`
}

// LoadSignatures reads extra signatures from a YAML file. The file holds
// either a top-level list or a "signatures:" list. Every entry is
// validated; invalid regexes and globs are rejected here rather than at
// classification time.
func LoadSignatures(path string) ([]Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signatures: %w", err)
	}

	var sigs []Signature
	var file signatureFile
	if err := yaml.Unmarshal(data, &file); err == nil {
		sigs = file.Signatures
	} else if listErr := yaml.Unmarshal(data, &sigs); listErr != nil {
		return nil, fmt.Errorf("parse signatures %s: %w", path, err)
	}

	for i := range sigs {
		if err := sigs[i].compile(); err != nil {
			return nil, fmt.Errorf("signature %d in %s: %w", i+1, path, err)
		}
	}
	return sigs, nil
}
