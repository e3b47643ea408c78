package hostfunc

import (
	"context"
	"strings"

	"github.com/caffeineduck/scriptgate/sapi"
)

func requestContext(ctx context.Context) (*sapi.RequestContext, error) {
	rc, ok := sapi.RequestContextFrom(ctx)
	if !ok {
		return nil, sapi.ErrNoRequestContext
	}
	return rc, nil
}

// RequestHeaders returns the current request's headers. Each name maps to its
// values joined by ", ".
func RequestHeaders(ctx context.Context, args map[string]any) (any, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, rc.Request.Headers().Len())
	rc.Request.Headers().Each(func(key string, values []string) bool {
		out[key] = strings.Join(values, ", ")
		return true
	})
	return out, nil
}

// RequestInfo returns the request id, method, path, query and script filename.
func RequestInfo(ctx context.Context, args map[string]any) (any, error) {
	rc, err := requestContext(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       rc.ID,
		"method":   rc.Request.Method(),
		"path":     rc.Request.Path(),
		"query":    rc.Request.Query(),
		"filename": rc.Filename,
	}, nil
}

// RegisterRequest adds request_headers and request_info to r.
func RegisterRequest(r *Registry) {
	r.Register("request_headers", RequestHeaders)
	r.Register("request_info", RequestInfo)
}
