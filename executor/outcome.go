package executor

import (
	"fmt"

	"github.com/caffeineduck/scriptgate/handler"
)

// Kind classifies how a request cycle ended.
type Kind int

const (
	// Success means the script ran to completion.
	Success Kind = iota
	// ScriptFault means the script raised an uncaught fault. The response
	// carries status 500 and the fault message.
	ScriptFault
	// InfraFailure means the cycle could not run or was aborted by the host.
	// The response is the empty default response.
	InfraFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case ScriptFault:
		return "script_fault"
	case InfraFailure:
		return "infra_failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result of one request cycle. Response is never nil.
type Outcome struct {
	Kind     Kind
	Response *handler.Response

	// Message is the fault message for ScriptFault.
	Message string

	// Err is the reason for InfraFailure.
	Err error
}

// OK reports whether the script succeeded.
func (o Outcome) OK() bool { return o.Kind == Success }

// Body returns the response body.
func (o Outcome) Body() []byte { return o.Response.Body() }

func (o Outcome) String() string {
	switch o.Kind {
	case ScriptFault:
		return fmt.Sprintf("script fault: %s", o.Message)
	case InfraFailure:
		return fmt.Sprintf("infra failure: %v", o.Err)
	}
	return fmt.Sprintf("success: %d", o.Response.Status())
}

func succeeded(resp *handler.Response) Outcome {
	return Outcome{Kind: Success, Response: resp}
}

func faulted(resp *handler.Response, msg string) Outcome {
	return Outcome{Kind: ScriptFault, Response: resp, Message: msg}
}

func failed(err error) Outcome {
	return Outcome{Kind: InfraFailure, Response: handler.Empty(), Err: err}
}
