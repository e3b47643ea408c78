package sapi

import "errors"

var (
	ErrStartup          = errors.New("engine startup failed")
	ErrActivation       = errors.New("engine activation failed")
	ErrRequestStart     = errors.New("engine request startup failed")
	ErrWriteRejected    = errors.New("output write rejected")
	ErrNoRequestContext = errors.New("no request context")
)
