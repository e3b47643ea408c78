// Package scriptgate embeds script engines behind a web-server style request
// cycle.
//
// # Overview
//
// An engine instance serves one request at a time. For every request the
// executor projects the transport request into the engine's globals, runs the
// script, captures body writes and header lines into a response, translates an
// uncaught fault into a 500, and resets every piece of request state before
// the next one.
//
// # Basic Usage
//
//	exec := executor.New(javascript.New())
//	if err := exec.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Stop()
//
//	req := handler.NewRequest().Method("GET").URL("/hello?name=ada").MustBuild()
//	out := exec.Run(ctx, `echo("hello ", $_GET.name)`, "hello.js", req)
//	fmt.Println(out.Kind, string(out.Body()))
//
// # Concurrency
//
//	pool, _ := executor.NewPool(runtime.NumCPU(), func() (sapi.Engine, error) {
//	    return javascript.New(), nil
//	})
//	resp, err := pool.Handle(ctx, req)
//
// # Engines
//
// The [language/javascript] engine runs scripts on an embedded QuickJS VM.
// The [language/wasi] engine runs any WASI interpreter module under wazero,
// CGI style. Both reach host capabilities through a [hostfunc] registry.
//
// See the [executor], [sapi], [handler] and [handler/rewrite] packages for
// the full API.
package scriptgate
