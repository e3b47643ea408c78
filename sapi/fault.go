package sapi

import "fmt"

// UncaughtMessage is used when a fault carries no readable message.
const UncaughtMessage = "Uncaught exception"

// Fault is a pending script fault held in the engine's exception slot.
//
// The payload is engine specific. Engines supply an extractor that reads the
// human readable message and a release func that frees the payload.
type Fault struct {
	Payload any

	extract  func() (string, error)
	release  func()
	released bool
}

// NewFault wraps an engine payload. extract and release may be nil.
func NewFault(payload any, extract func() (string, error), release func()) *Fault {
	return &Fault{Payload: payload, extract: extract, release: release}
}

// NewMessageFault returns a fault whose message is fixed.
func NewMessageFault(msg string) *Fault {
	return NewFault(msg, func() (string, error) { return msg, nil }, nil)
}

// Message extracts the fault message. Extractor panics are reported as errors.
func (f *Fault) Message() (msg string, err error) {
	if f.released {
		return "", fmt.Errorf("fault already released")
	}
	if f.extract == nil {
		return UncaughtMessage, nil
	}
	defer func() {
		if r := recover(); r != nil {
			msg, err = "", fmt.Errorf("extract fault message: %v", r)
		}
	}()
	msg, err = f.extract()
	if err == nil && msg == "" {
		msg = UncaughtMessage
	}
	return msg, err
}

// Release frees the payload. It is safe to call more than once.
func (f *Fault) Release() {
	if f.released {
		return
	}
	f.released = true
	if f.release != nil {
		f.release()
	}
}

// Released reports whether Release has run.
func (f *Fault) Released() bool { return f.released }
