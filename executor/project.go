package executor

import (
	"fmt"
	"strings"

	"github.com/caffeineduck/scriptgate/handler"
	"github.com/caffeineduck/scriptgate/sapi"
)

// project copies the transport view of req into the engine's request info.
// Every string is cloned so nothing in g aliases transport memory. The
// returned warnings are written to the request log by the caller.
func project(g *sapi.Globals, req *handler.Request, filename string, argv []string) (warnings []string) {
	info := &g.Request

	info.Method = strings.Clone(req.Method())
	info.PathTranslated = strings.Clone(filename)
	info.QueryString = strings.Clone(req.Query())
	info.RequestURI = strings.Clone(req.URI())
	info.Headers = req.Headers().Clone()

	if ct, ok := req.ContentType(); ok {
		info.ContentType = strings.Clone(ct)
	}

	n, ok, err := req.ContentLength()
	switch {
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("Warning: ignoring %v", err))
	case ok:
		info.ContentLength = n
	}

	if cookie, ok := req.Cookie(); ok {
		info.CookieData = strings.Clone(cookie)
	}

	info.Argv = append([]string{strings.Clone(filename)}, argv...)
	info.Argc = len(info.Argv)

	return warnings
}

// releaseProjection drops the projected request copies.
func releaseProjection(g *sapi.Globals) {
	g.ReleaseRequest()
}
