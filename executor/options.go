package executor

// Option configures an Executor.
type Option func(*config)

type config struct {
	maxBodySize    int64
	index          string
	docroot        string
	argv           []string
	serverSoftware string
	serverName     string
	ini            map[string]string
}

func defaultConfig() config {
	return config{
		index:          "index.js",
		serverSoftware: "scriptgate",
		ini:            map[string]string{},
	}
}

// WithMaxBodySize caps the response body. A write that would exceed the cap is
// rejected and aborts the request. Zero means no limit.
func WithMaxBodySize(n int64) Option {
	return func(c *config) {
		c.maxBodySize = n
	}
}

// WithIndex sets the script tried when a request path ends in "/".
func WithIndex(name string) Option {
	return func(c *config) {
		c.index = name
	}
}

// WithDocroot sets the document root used by Handle when the request carries
// none.
func WithDocroot(dir string) Option {
	return func(c *config) {
		c.docroot = dir
	}
}

// WithArgv sets extra script arguments exposed as argv after the filename.
func WithArgv(args ...string) Option {
	return func(c *config) {
		c.argv = append([]string(nil), args...)
	}
}

// WithServerSoftware sets SERVER_SOFTWARE.
func WithServerSoftware(name string) Option {
	return func(c *config) {
		c.serverSoftware = name
	}
}

// WithServerName sets SERVER_NAME. By default the request host is used, then
// the machine hostname.
func WithServerName(name string) Option {
	return func(c *config) {
		c.serverName = name
	}
}

// WithINI adds an engine directive. Baked directives such as memory_limit or
// log_errors keep their values; setting one is ignored.
func WithINI(key, value string) Option {
	return func(c *config) {
		c.ini[key] = value
	}
}
