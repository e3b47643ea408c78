package executor

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/caffeineduck/scriptgate/sapi"
)

// newModule builds the hook table installed into the engine at Start.
func (e *Executor) newModule() *sapi.Module {
	ini := sapi.DefaultINI()
	for k, v := range e.cfg.ini {
		if _, baked := ini[k]; !baked {
			ini[k] = v
		}
	}
	return &sapi.Module{
		Name:                    "scriptgate",
		PrettyName:              "scriptgate embedded",
		INI:                     ini,
		UBWrite:                 e.ubWrite,
		SendHeader:              e.sendHeader,
		ReadPost:                readPost,
		ReadCookies:             readCookies,
		RegisterServerVariables: e.registerServerVariables,
		LogMessage:              logMessage,
		Deactivate:              deactivate,
	}
}

// ubWrite accepts all of p or nothing. A zero count tells the engine the write
// was rejected.
func (e *Executor) ubWrite(rc *sapi.RequestContext, p []byte) int {
	if limit := e.cfg.maxBodySize; limit > 0 && int64(rc.Response.BodyLen()+len(p)) > limit {
		Logger().Warn("response body limit exceeded",
			zap.String("request_id", rc.ID),
			zap.Int64("limit", limit),
			zap.Int("attempted", rc.Response.BodyLen()+len(p)),
		)
		return 0
	}
	n, err := rc.Response.BodyWrite(p)
	if err != nil {
		return 0
	}
	return n
}

// sendHeader only observes. Status, mime type and header lines are read back
// from the globals when the response is finalised.
func (e *Executor) sendHeader(rc *sapi.RequestContext, line sapi.HeaderLine) {
	e.stats.headers.Add(1)
	Logger().Debug("header emitted",
		zap.String("request_id", rc.ID),
		zap.String("name", line.Name),
	)
}

// readPost pulls the next chunk of the request body. Zero means the body is
// exhausted.
func readPost(rc *sapi.RequestContext, p []byte) int {
	if len(p) == 0 {
		return 0
	}
	for range 8 {
		n, err := rc.Request.Read(p)
		if n > 0 {
			return n
		}
		if err != nil {
			return 0
		}
	}
	return 0
}

func readCookies(rc *sapi.RequestContext) (string, bool) {
	c := rc.Globals.Request.CookieData
	return c, c != ""
}

func logMessage(rc *sapi.RequestContext, msg string, level sapi.LogLevel) {
	_, _ = rc.Response.LogWrite([]byte(msg))
	Logger().Debug("script log",
		zap.String("request_id", rc.ID),
		zap.Stringer("level", level),
		zap.String("message", msg),
	)
}

func deactivate(rc *sapi.RequestContext) error {
	Logger().Debug("request deactivated", zap.String("request_id", rc.ID))
	return nil
}

// registerServerVariables fills the CGI/1.1 variable table for the script.
func (e *Executor) registerServerVariables(rc *sapi.RequestContext, vars *sapi.Variables) {
	req := rc.Request
	info := rc.Globals.Request

	info.Headers.Each(func(key string, values []string) bool {
		switch strings.ToLower(key) {
		case "content-type", "content-length", "cookie":
			return true
		}
		vars.Set(cgiHeaderName(key), strings.Join(values, ", "))
		return true
	})

	docroot := req.Docroot()
	if docroot == "" {
		docroot = e.cfg.docroot
	}

	vars.Set("REQUEST_SCHEME", req.Scheme())
	vars.Set("GATEWAY_INTERFACE", "CGI/1.1")
	scriptName, pathInfo := splitPathInfo(docroot, rc.Filename, req.Path())
	vars.Set("PHP_SELF", req.Path())
	vars.Set("SCRIPT_NAME", scriptName)
	if pathInfo != "" {
		vars.Set("PATH_INFO", pathInfo)
	}
	vars.Set("SCRIPT_FILENAME", info.PathTranslated)
	vars.Set("PATH_TRANSLATED", info.PathTranslated)
	vars.Set("DOCUMENT_ROOT", docroot)
	vars.Set("SERVER_NAME", e.serverName(rc))
	vars.Set("REQUEST_URI", info.RequestURI)
	vars.Set("SERVER_PROTOCOL", protocolName(info.ProtoNum))
	vars.Set("SERVER_SOFTWARE", e.cfg.serverSoftware)

	if host, port, ok := splitAddr(req.LocalAddr()); ok {
		vars.Set("SERVER_ADDR", host)
		vars.Set("SERVER_PORT", port)
	}
	if host, port, ok := splitAddr(req.RemoteAddr()); ok {
		vars.Set("REMOTE_ADDR", host)
		vars.Set("REMOTE_PORT", port)
	}

	vars.Set("REQUEST_METHOD", info.Method)
	if info.ContentType != "" {
		vars.Set("CONTENT_TYPE", info.ContentType)
	}
	if info.ContentLength > 0 {
		vars.Set("CONTENT_LENGTH", strconv.FormatInt(info.ContentLength, 10))
	}
	if info.CookieData != "" {
		vars.Set("HTTP_COOKIE", info.CookieData)
	}
	vars.Set("QUERY_STRING", info.QueryString)
}

// splitPathInfo separates the script part of uriPath from trailing segments.
// When filename does not lie under docroot or uriPath does not start with it,
// the whole path is the script name.
func splitPathInfo(docroot, filename, uriPath string) (scriptName, pathInfo string) {
	if docroot == "" || filename == "" {
		return uriPath, ""
	}
	rel, err := filepath.Rel(docroot, filename)
	if err != nil || !filepath.IsLocal(rel) {
		return uriPath, ""
	}
	name := "/" + filepath.ToSlash(rel)
	rest, ok := strings.CutPrefix(uriPath, name)
	if !ok || (rest != "" && rest[0] != '/') {
		return uriPath, ""
	}
	return name, rest
}

func (e *Executor) serverName(rc *sapi.RequestContext) string {
	if e.cfg.serverName != "" {
		return e.cfg.serverName
	}
	if h := rc.Request.Host(); h != "" {
		return h
	}
	if h, ok := rc.Request.Headers().Lookup("Host"); ok {
		if host, _, err := net.SplitHostPort(h); err == nil {
			return host
		}
		return h
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "localhost"
}

func cgiHeaderName(key string) string {
	return "HTTP_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func protocolName(num int) string {
	switch num {
	case sapi.ProtoHTTP20:
		return "HTTP/2.0"
	case sapi.ProtoHTTP11:
		return "HTTP/1.1"
	}
	return "HTTP/1.0"
}

func splitAddr(a net.Addr) (host, port string, ok bool) {
	if a == nil {
		return "", "", false
	}
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return "", "", false
	}
	return host, port, true
}
