// Package hostfunc provides Go functions that scripts can call through the
// engine's host bridge.
//
// Host functions are plain Go funcs keyed by name in a [Registry]. Engines
// decode script arguments into a map, call the function with a context that
// carries the current [sapi.RequestContext], and encode the result back.
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "hello " + args["name"].(string), nil
//	})
//
// # Built-in Capabilities
//
// Key-value store shared across requests, via [KV]:
//
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
//
// Request introspection, via [RegisterRequest]: request_headers and
// request_info read the current request from the context.
//
// Outbound HTTP limited to an allowlist, via [Fetch]:
//
//	hostfunc.NewFetch(hostfunc.FetchConfig{AllowedHosts: []string{"api.example.com"}}).Register(registry)
//
// Read-only file access below the document root, via [Files].
//
// Nothing is available to scripts unless it is registered.
package hostfunc
