package source

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind hints which backend an identifier belongs to.
type Kind string

const (
	KindJira    Kind = "jira"
	KindGitHub  Kind = "github"
	KindGitLab  Kind = "gitlab"
	KindUnknown Kind = ""
)

// Identifier is a parsed ticket identifier.
type Identifier struct {
	// Raw is the caller's input, trimmed.
	Raw string
	// Key is the canonical ticket key ("PROJ-42", "owner/repo#12", "12").
	Key string
	// Project is the Jira project key, GitHub "owner/repo" or GitLab project path.
	Project string
	// Number is the issue number for GitHub/GitLab style identifiers.
	Number int64
	// Host is the host of a URL identifier.
	Host string
	// Kind is the backend the identifier points at, when it can be told.
	Kind Kind
}

var (
	jiraBrowseURL  = regexp.MustCompile(`^https?://([^/]+)/browse/([A-Za-z][A-Za-z0-9_]*-\d+)`)
	jiraSelected   = regexp.MustCompile(`^https?://([^/]+)/.*[?&]selectedIssue=([A-Za-z][A-Za-z0-9_]*-\d+)`)
	gitlabIssueURL = regexp.MustCompile(`^https?://([^/]+)/(.+?)/-/(?:issues|work_items)/(\d+)`)
	githubIssueURL = regexp.MustCompile(`^https?://([^/]+)/([^/]+)/([^/]+)/issues/(\d+)`)
	jiraKey        = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)-(\d+)$`)
	projectNumber  = regexp.MustCompile(`^([\w.-]+(?:/[\w.-]+)+)#(\d+)$`)
	bareNumber     = regexp.MustCompile(`^#?(\d+)$`)
)

// ParseIdentifier parses a raw ticket ID or a URL that embeds one.
//
// Supported forms:
//   - PROJ-42 (Jira key, uppercased)
//   - owner/repo#12, group/sub/project#7
//   - #12, 12
//   - https://acme.atlassian.net/browse/PROJ-42
//   - https://github.com/owner/repo/issues/12
//   - https://gitlab.com/group/project/-/issues/7
//
// Anything else is kept as an opaque key.
func ParseIdentifier(raw string) Identifier {
	s := strings.TrimSpace(raw)
	id := Identifier{Raw: s}
	if s == "" {
		return id
	}

	if m := jiraBrowseURL.FindStringSubmatch(s); m != nil {
		return jiraIdentifier(id, m[1], m[2])
	}
	if m := jiraSelected.FindStringSubmatch(s); m != nil {
		return jiraIdentifier(id, m[1], m[2])
	}
	if m := gitlabIssueURL.FindStringSubmatch(s); m != nil {
		id.Host = strings.ToLower(m[1])
		id.Kind = KindGitLab
		return numbered(id, m[2], m[3])
	}
	if m := githubIssueURL.FindStringSubmatch(s); m != nil {
		id.Host = strings.ToLower(m[1])
		id.Kind = KindGitHub
		if strings.Contains(id.Host, "gitlab") {
			id.Kind = KindGitLab
		}
		return numbered(id, m[2]+"/"+m[3], m[4])
	}
	if m := jiraKey.FindStringSubmatch(s); m != nil {
		return jiraIdentifier(id, "", s)
	}
	if m := projectNumber.FindStringSubmatch(s); m != nil {
		return numbered(id, m[1], m[2])
	}
	if m := bareNumber.FindStringSubmatch(s); m != nil {
		return numbered(id, "", m[1])
	}

	id.Key = s
	return id
}

func jiraIdentifier(id Identifier, host, key string) Identifier {
	key = strings.ToUpper(key)
	id.Key = key
	id.Host = strings.ToLower(host)
	id.Kind = KindJira
	id.Project = key[:strings.LastIndex(key, "-")]
	if n, err := strconv.ParseInt(key[strings.LastIndex(key, "-")+1:], 10, 64); err == nil {
		id.Number = n
	}
	return id
}

func numbered(id Identifier, project, number string) Identifier {
	n, _ := strconv.ParseInt(number, 10, 64)
	id.Number = n
	id.Project = project
	if project != "" {
		id.Key = project + "#" + number
	} else {
		id.Key = number
	}
	return id
}

// DetectKind picks a backend from the identifier's URL host, mirroring the
// way git remotes are classified. Returns KindUnknown when nothing matches.
func DetectKind(id Identifier) Kind {
	if id.Kind != KindUnknown {
		return id.Kind
	}
	host := strings.ToLower(id.Host)
	switch {
	case strings.Contains(host, "atlassian.net"), strings.HasPrefix(host, "jira."):
		return KindJira
	case strings.HasPrefix(host, "github."):
		return KindGitHub
	case strings.HasPrefix(host, "gitlab."):
		return KindGitLab
	}
	return KindUnknown
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".heic", ".tif", ".tiff"}

// IsImageName reports whether a file name or URL path has an image extension.
// Query strings and fragments are ignored.
func IsImageName(name string) bool {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	lower := strings.ToLower(name)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
