package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/randalmurphal/triage/internal/extract"
	"github.com/randalmurphal/triage/internal/logging"
)

// FilePlaceholder in command arguments is replaced by the local image path.
const FilePlaceholder = "{file}"

// maxImageBytes caps downloaded screenshots.
const maxImageBytes = 32 << 20

// CommandConfig configures a CommandAnalyzer.
type CommandConfig struct {
	// Path is the OCR executable. Default "tesseract".
	Path string `yaml:"path" json:"path,omitempty" mapstructure:"path"`
	// Args are passed to Path with FilePlaceholder substituted.
	// Default ["{file}", "stdout"].
	Args []string `yaml:"args" json:"args,omitempty" mapstructure:"args"`
	// Timeout bounds the download and the command run. Default 60s.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty" mapstructure:"timeout"`
	// RetryMax is the number of download retries.
	RetryMax int `yaml:"retry_max" json:"retry_max" mapstructure:"retry_max"`
}

// CommandAnalyzer runs an external OCR command over each screenshot and
// keeps the output lines that read as error messages.
type CommandAnalyzer struct {
	path    string
	args    []string
	timeout time.Duration
	client  *retryablehttp.Client
}

// NewCommandAnalyzer creates a CommandAnalyzer.
func NewCommandAnalyzer(cfg CommandConfig, logger *logging.Logger) *CommandAnalyzer {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{FilePlaceholder, "stdout"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &CommandAnalyzer{
		path:    cfg.Path,
		args:    cfg.Args,
		timeout: cfg.Timeout,
		client:  newRetryClient(cfg.Timeout, cfg.RetryMax, logger),
	}
}

// Analyze resolves uri to a local file and runs the command over it.
func (a *CommandAnalyzer) Analyze(ctx context.Context, uri string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	path, cleanup, err := a.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := make([]string, len(a.args))
	for i, arg := range a.args {
		args[i] = strings.ReplaceAll(arg, FilePlaceholder, path)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %s on %s: %w", filepath.Base(a.path), uri, err)
		}
		return nil, fmt.Errorf("run %s on %s: %w: %s", filepath.Base(a.path), uri, err, msg)
	}

	return extract.ErrorLines(stdout.String()), nil
}

// resolve returns a readable local path for uri. Remote images are
// downloaded to a temp file removed by cleanup.
func (a *CommandAnalyzer) resolve(ctx context.Context, uri string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(uri)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return a.download(ctx, uri)
	}

	path := uri
	if err == nil && u.Scheme == "file" {
		path = u.Path
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", noop, fmt.Errorf("screenshot %s: %w", uri, err)
	}
	if info.IsDir() {
		return "", noop, fmt.Errorf("screenshot %s is a directory", uri)
	}
	return path, noop, nil
}

func (a *CommandAnalyzer) download(ctx context.Context, uri string) (string, func(), error) {
	noop := func() {}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", noop, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("download %s: %w", uri, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", noop, fmt.Errorf("download %s: status %d", uri, resp.StatusCode)
	}

	f, err := os.CreateTemp("", "triage-screenshot-*"+imageExt(uri))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		_ = f.Close()
		cleanup()
		return "", noop, fmt.Errorf("save %s: %w", uri, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("save %s: %w", uri, err)
	}
	return f.Name(), cleanup, nil
}

// imageExt keeps the URI's extension so OCR tools can sniff the format.
func imageExt(uri string) string {
	if u, err := url.Parse(uri); err == nil {
		if ext := filepath.Ext(u.Path); len(ext) <= 5 {
			return ext
		}
	}
	return ""
}
