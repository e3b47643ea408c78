package executor_test

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/caffeineduck/scriptgate/sapi"
)

// fakeEngine interprets a tiny line-oriented script language so the request
// cycle can be tested without a real interpreter.
//
//	echo TEXT        write TEXT to the body
//	status N         set the response code
//	header LINE      apply a raw header line
//	throw MSG        raise a fault with message MSG and stop
//	throwraw         raise a fault whose message cannot be read
//	log MSG          write MSG to the request log
//	body             echo the request body
//	var NAME         echo a server variable
//	cookie           echo the cookie data
//	proto            echo the protocol number
type fakeEngine struct {
	module  *sapi.Module
	globals *sapi.Globals

	startupErr  error
	activateErr error
	requestErr  error

	mu               sync.Mutex
	startups         int
	shutdowns        int
	activations      int
	requestStarts    int
	requestShutdowns int
	deactivations    int
	flushes          int
	seen             []sapi.RequestInfo

	entered chan struct{}
	block   chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{globals: sapi.NewGlobals()}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Startup(m *sapi.Module) error {
	if f.startupErr != nil {
		return f.startupErr
	}
	deactivate := m.Deactivate
	m.Deactivate = func(rc *sapi.RequestContext) error {
		f.mu.Lock()
		f.deactivations++
		f.mu.Unlock()
		if deactivate != nil {
			return deactivate(rc)
		}
		return nil
	}
	f.module = m
	f.startups++
	return nil
}

func (f *fakeEngine) Shutdown() error {
	f.shutdowns++
	return nil
}

func (f *fakeEngine) Activate() error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activations++
	return nil
}

func (f *fakeEngine) RequestStartup(ctx context.Context, rc *sapi.RequestContext) error {
	if f.requestErr != nil {
		return f.requestErr
	}
	info := rc.Globals.Request
	info.Headers = info.Headers.Clone()
	info.Argv = append([]string(nil), info.Argv...)

	f.mu.Lock()
	f.requestStarts++
	f.seen = append(f.seen, info)
	f.mu.Unlock()

	rc.Globals.Request.ProtoNum = sapi.DefaultProtoNum
	return nil
}

func (f *fakeEngine) Eval(ctx context.Context, rc *sapi.RequestContext, source, filename string) error {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.block
	}

	g := rc.Globals
	for _, line := range strings.Split(source, "\n") {
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "echo":
			if _, err := sapi.Write(f.module, rc, []byte(arg)); err != nil {
				return err
			}
		case "status":
			code, _ := strconv.Atoi(arg)
			if err := g.Headers.SetResponseCode(code); err != nil {
				f.module.Log(rc, err.Error(), sapi.LogWarning)
			}
		case "header":
			if err := g.Headers.Header(arg, true); err != nil {
				f.module.Log(rc, "Warning: "+err.Error(), sapi.LogWarning)
			}
		case "throw":
			g.Executor.Exception = sapi.NewMessageFault(arg)
			return nil
		case "throwraw":
			g.Executor.Exception = sapi.NewFault(nil, func() (string, error) {
				return "", fmt.Errorf("no execution frame")
			}, nil)
			return nil
		case "log":
			f.module.Log(rc, arg, sapi.LogNotice)
		case "body":
			var buf bytes.Buffer
			p := make([]byte, 3)
			for {
				n := f.module.ReadBody(rc, p)
				if n == 0 {
					break
				}
				buf.Write(p[:n])
			}
			if _, err := sapi.Write(f.module, rc, buf.Bytes()); err != nil {
				return err
			}
		case "var":
			v, _ := f.module.ServerVariables(rc).Get(arg)
			if _, err := sapi.Write(f.module, rc, []byte(v)); err != nil {
				return err
			}
		case "cookie":
			c, _ := f.module.Cookies(rc)
			if _, err := sapi.Write(f.module, rc, []byte(c)); err != nil {
				return err
			}
		case "proto":
			if _, err := sapi.Write(f.module, rc, []byte(strconv.Itoa(g.Request.ProtoNum))); err != nil {
				return err
			}
		default:
			g.Executor.Exception = sapi.NewMessageFault("unknown command " + cmd)
			return nil
		}
	}
	return nil
}

func (f *fakeEngine) RequestShutdown(rc *sapi.RequestContext) {
	f.mu.Lock()
	f.requestShutdowns++
	f.mu.Unlock()
	_ = f.module.DeactivateRequest(rc)
}

func (f *fakeEngine) Flush(rc *sapi.RequestContext) {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	sapi.Flush(f.module, rc)
}

func (f *fakeEngine) Globals() *sapi.Globals { return f.globals }

func (f *fakeEngine) lastSeen() sapi.RequestInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[len(f.seen)-1]
}
