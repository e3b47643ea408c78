// Package executor runs scripts on an embedded engine, one HTTP-style request
// at a time.
//
// # Overview
//
// An [Executor] owns one [sapi.Engine]. Start installs the hook table and
// bootstraps the engine; Run drives a single request through the cycle:
// activation, environment projection, request startup, evaluation, fault
// translation, response finalisation and teardown. Cleanup runs on every exit
// path so the same engine can serve the next request with nothing left over.
//
// # Basic Usage
//
//	exec := executor.New(javascript.New())
//	if err := exec.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Stop()
//
//	req := handler.NewRequest().Method("GET").URL("/hello").MustBuild()
//	out := exec.Run(ctx, `echo("Hello, World!")`, "hello.js", req)
//	fmt.Println(out.Response.Status(), string(out.Body()))
//
// # Outcomes
//
// Run returns an [Outcome]. A script that throws yields [ScriptFault] with a
// 500 response carrying the message. Activation and request start failures,
// and writes rejected by the host, yield [InfraFailure] with an empty response
// whose status is zero, so transports can tell the two apart.
//
// # Concurrency
//
// An Executor is not reentrant. A [Pool] spreads requests over several
// executors, each with its own engine:
//
//	pool, err := executor.NewPool(4, func() (sapi.Engine, error) {
//	    return javascript.New(), nil
//	})
package executor
