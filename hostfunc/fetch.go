package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caffeineduck/scriptgate/sapi"
)

const (
	DefaultFetchMaxURLLength = 8192
	DefaultFetchMaxBodySize  = 1 << 20
	DefaultFetchTimeout      = 10 * time.Second
)

// ErrFetchDisabled is returned when no host is allowed.
var ErrFetchDisabled = errors.New("fetch not enabled")

// FetchConfig restricts outbound requests made by scripts.
type FetchConfig struct {
	// AllowedHosts lists hosts scripts may reach. A host also allows its
	// subdomains. Empty disables fetch.
	AllowedHosts []string
	MaxURLLength int
	MaxBodySize  int64
	Timeout      time.Duration
	Client       *http.Client
}

// Fetch performs outbound HTTP requests for scripts. The current request id
// is forwarded as X-Request-Id.
type Fetch struct {
	cfg    FetchConfig
	client *http.Client
}

func NewFetch(cfg FetchConfig) *Fetch {
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultFetchMaxURLLength
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultFetchMaxBodySize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetch{cfg: cfg, client: client}
}

// Register adds fetch to r.
func (f *Fetch) Register(r *Registry) {
	r.Register("fetch", f.Do)
}

// Do runs one request. Args: url (required), method, body, headers.
// The result has status, headers (first value per name) and body.
func (f *Fetch) Do(ctx context.Context, args map[string]any) (any, error) {
	if len(f.cfg.AllowedHosts) == 0 {
		return nil, ErrFetchDisabled
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions:
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	raw, _ := args["url"].(string)
	if raw == "" {
		return nil, errors.New("url required")
	}
	if len(raw) > f.cfg.MaxURLLength {
		return nil, fmt.Errorf("url exceeds %d bytes", f.cfg.MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}
	if host := u.Hostname(); !f.allowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	var body io.Reader
	if s, ok := args["body"].(string); ok && s != "" {
		if int64(len(s)) > f.cfg.MaxBodySize {
			return nil, fmt.Errorf("request body exceeds %d bytes", f.cfg.MaxBodySize)
		}
		body = strings.NewReader(s)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if hdrs, ok := args["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if rc, ok := sapi.RequestContextFrom(ctx); ok && rc.ID != "" {
		req.Header.Set("X-Request-Id", rc.ID)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(data),
	}, nil
}

func (f *Fetch) allowed(host string) bool {
	for _, a := range f.cfg.AllowedHosts {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
