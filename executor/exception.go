package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/caffeineduck/scriptgate/sapi"
)

// translateFault turns a pending script fault into a 500 response. It returns
// the fault message and whether a fault was pending. It never panics.
func translateFault(m *sapi.Module, rc *sapi.RequestContext) (string, bool) {
	g := rc.Globals
	f := g.Executor.Exception
	if f == nil {
		return "", false
	}

	msg, err := f.Message()
	if err != nil {
		Logger().Debug("fault message unavailable",
			zap.String("request_id", rc.ID),
			zap.Error(err),
		)
		msg = sapi.UncaughtMessage
	}

	g.Headers.ResponseCode = 500
	rc.Response.Exception(msg)

	f.Release()
	g.Executor.Exception = nil
	g.Executor.ExitStatus = 1

	if m.INI.Bool("log_errors") {
		m.Log(rc, fmt.Sprintf("Fatal error: %s in %s", msg, rc.Filename), sapi.LogError)
	}
	return msg, true
}
