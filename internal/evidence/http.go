package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/triage/internal/logging"
)

// maxResponseBytes caps analysis responses.
const maxResponseBytes = 4 << 20

// HTTPConfig configures an HTTPAnalyzer.
type HTTPConfig struct {
	// Endpoint receives POST {"uri": "<screenshot>"}.
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty" mapstructure:"endpoint"`
	// ErrorsPath is a gjson path selecting the error strings in the
	// response. It may select a string or an array. Default "errors".
	ErrorsPath string `yaml:"errors_path" json:"errors_path,omitempty" mapstructure:"errors_path"`
	// TokenEnvVar names an environment variable holding a bearer token.
	TokenEnvVar string `yaml:"token_env_var" json:"token_env_var,omitempty" mapstructure:"token_env_var"`
	// Timeout bounds each attempt. Default 30s.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty" mapstructure:"timeout"`
	// RetryMax is the number of retries after the first attempt.
	RetryMax int `yaml:"retry_max" json:"retry_max" mapstructure:"retry_max"`
}

// HTTPAnalyzer delegates image analysis to a remote service.
type HTTPAnalyzer struct {
	client   *retryablehttp.Client
	endpoint string
	path     string
	token    string
}

// NewHTTPAnalyzer creates an analyzer that calls cfg.Endpoint.
func NewHTTPAnalyzer(cfg HTTPConfig, logger *logging.Logger) (*HTTPAnalyzer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("analysis endpoint is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.ErrorsPath == "" {
		cfg.ErrorsPath = "errors"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var token string
	if cfg.TokenEnvVar != "" {
		token = os.Getenv(cfg.TokenEnvVar)
		if token == "" {
			return nil, fmt.Errorf("%s environment variable is not set", cfg.TokenEnvVar)
		}
	}

	return &HTTPAnalyzer{
		client:   newRetryClient(cfg.Timeout, cfg.RetryMax, logger),
		endpoint: cfg.Endpoint,
		path:     cfg.ErrorsPath,
		token:    token,
	}, nil
}

func newRetryClient(timeout time.Duration, retryMax int, logger *logging.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = timeout
	client.RetryMax = max(retryMax, 0)
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = logger.Leveled()
	return client
}

// Analyze posts the screenshot URI and reads error strings from the response.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, uri string) ([]string, error) {
	body, err := json.Marshal(map[string]string{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read analysis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("analyze %s: status %d: %s", uri, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return parseErrors(data, a.path)
}

// parseErrors selects error strings from a JSON document with a gjson path.
// A missing path means the image contained no errors.
func parseErrors(data []byte, path string) ([]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("analysis response is not valid JSON")
	}
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return nil, nil
	}

	var out []string
	collect := func(r gjson.Result) {
		if s := strings.TrimSpace(r.String()); s != "" && r.Type != gjson.Null {
			out = append(out, s)
		}
	}
	if result.IsArray() {
		result.ForEach(func(_, value gjson.Result) bool {
			collect(value)
			return true
		})
	} else {
		collect(result)
	}
	return out, nil
}
