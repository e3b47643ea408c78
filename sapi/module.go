package sapi

// LogLevel is a syslog style severity passed to the log hook.
type LogLevel int

const (
	LogEmergency LogLevel = iota
	LogAlert
	LogCritical
	LogError
	LogWarning
	LogNotice
	LogInfo
	LogDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogEmergency:
		return "emergency"
	case LogAlert:
		return "alert"
	case LogCritical:
		return "critical"
	case LogError:
		return "error"
	case LogWarning:
		return "warning"
	case LogNotice:
		return "notice"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	}
	return "unknown"
}

// Module is the host side of the embedding: the hook table an engine calls
// while it runs. Every per-request hook receives the request context
// explicitly. A nil hook is treated as a no-op.
type Module struct {
	Name       string
	PrettyName string
	INI        INI

	UBWrite                 func(rc *RequestContext, p []byte) int
	Flush                   func(rc *RequestContext)
	SendHeader              func(rc *RequestContext, line HeaderLine)
	ReadPost                func(rc *RequestContext, p []byte) int
	ReadCookies             func(rc *RequestContext) (string, bool)
	RegisterServerVariables func(rc *RequestContext, vars *Variables)
	LogMessage              func(rc *RequestContext, msg string, level LogLevel)
	Deactivate              func(rc *RequestContext) error
}

func (m *Module) ubWrite(rc *RequestContext, p []byte) int {
	if m.UBWrite == nil {
		return len(p)
	}
	return m.UBWrite(rc, p)
}

func (m *Module) flush(rc *RequestContext) {
	if m.Flush != nil {
		m.Flush(rc)
	}
}

func (m *Module) sendHeader(rc *RequestContext, line HeaderLine) {
	if m.SendHeader != nil {
		m.SendHeader(rc, line)
	}
}

// Log calls the log hook.
func (m *Module) Log(rc *RequestContext, msg string, level LogLevel) {
	if m.LogMessage != nil {
		m.LogMessage(rc, msg, level)
	}
}

// ReadBody calls the read-post hook.
func (m *Module) ReadBody(rc *RequestContext, p []byte) int {
	if m.ReadPost == nil {
		return 0
	}
	return m.ReadPost(rc, p)
}

// Cookies calls the read-cookies hook.
func (m *Module) Cookies(rc *RequestContext) (string, bool) {
	if m.ReadCookies == nil {
		return "", false
	}
	return m.ReadCookies(rc)
}

// ServerVariables builds the script's server variable table via the
// register-server-variables hook.
func (m *Module) ServerVariables(rc *RequestContext) *Variables {
	vars := NewVariables()
	if m.RegisterServerVariables != nil {
		m.RegisterServerVariables(rc, vars)
	}
	return vars
}

// DeactivateRequest calls the deactivate hook.
func (m *Module) DeactivateRequest(rc *RequestContext) error {
	if m.Deactivate == nil {
		return nil
	}
	return m.Deactivate(rc)
}
