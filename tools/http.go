// HTTP Client Tool.
//
// Information Hiding:
// - HTTP client implementation details hidden
// - Request/response handling abstracted

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"steward/model"
)

// HTTPTool makes HTTP requests. POST can mutate remote state, so the tool is
// classified mutating as a whole.
type HTTPTool struct {
	BaseTool
	client         *http.Client
	timeoutSecs    uint64
	allowedDomains []string
}

// NewHTTPTool creates a new HTTP tool with the given timeout.
func NewHTTPTool(timeoutSecs uint64) *HTTPTool {
	return &HTTPTool{
		BaseTool: BaseTool{meta: Metadata{
			Name:        "http_request",
			Description: "Make HTTP GET or POST requests to fetch data from URLs",
			Risk:        model.RiskMutating,
			Parameters: []Parameter{
				{Name: "url", ParamType: "string", Description: "The URL to request", Required: true},
				{Name: "method", ParamType: "string", Description: "HTTP method (GET or POST)", Required: false},
				{Name: "body", ParamType: "string", Description: "Request body for POST requests", Required: false},
			},
		}},
		client: &http.Client{
			Timeout: time.Duration(timeoutSecs) * time.Second,
		},
		timeoutSecs: timeoutSecs,
	}
}

// WithAllowedDomains sets the allowed domains for requests.
func (t *HTTPTool) WithAllowedDomains(domains []string) *HTTPTool {
	t.allowedDomains = domains
	return t
}

type httpArgs struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Body   string `json:"body"`
}

// Resource names the target URL, for conflict serialization.
func (t *HTTPTool) Resource(args json.RawMessage) string {
	var a httpArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.URL
}

// Execute makes the HTTP request.
func (t *HTTPTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var a httpArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if a.URL == "" {
		return FailureResultf("URL cannot be empty"), nil
	}

	if !t.isDomainAllowed(a.URL) {
		return FailureResultf("access to domain in '%s' is not allowed", a.URL), nil
	}

	method := strings.ToUpper(a.Method)
	if method == "" {
		method = "GET"
	}

	if method != "GET" && method != "POST" {
		return FailureResultf("only GET and POST methods are supported"), nil
	}

	var req *http.Request
	var err error

	if method == "POST" {
		req, err = http.NewRequestWithContext(ctx, method, a.URL, strings.NewReader(a.Body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, a.URL, nil)
	}

	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return FailureResultf("request timed out after %d seconds", t.timeoutSecs), nil
		}
		return FailureResult(fmt.Errorf("request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response body: %w", err)), nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return SuccessResult(fmt.Sprintf("Status: %s\n\n%s", resp.Status, string(body))), nil
	}

	return FailureResultf("HTTP error: %s\n\n%s", resp.Status, string(body)), nil
}

// isDomainAllowed checks if the URL's domain is in the allowlist.
// Uses proper URL parsing to prevent bypass attacks.
func (t *HTTPTool) isDomainAllowed(urlStr string) bool {
	if len(t.allowedDomains) == 0 {
		return true
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	host := u.Hostname()
	for _, domain := range t.allowedDomains {
		// Exact match or subdomain match
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

var (
	_ Tool           = (*HTTPTool)(nil)
	_ ResourceHinter = (*HTTPTool)(nil)
)
