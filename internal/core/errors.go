// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, wrapped with %w by the components that return them.
var (
	// Session lifecycle errors
	ErrCaptureSetup   = errors.New("aqmon: capture setup failed")
	ErrSessionRunning = errors.New("aqmon: session already running")
	ErrSessionStopped = errors.New("aqmon: session stopped")

	// Ingestion queue errors
	ErrQueueClosed = errors.New("aqmon: queue closed")

	// Classification and dispatch errors
	ErrUnknownKind    = errors.New("aqmon: unknown packet kind")
	ErrCallbackPanic  = errors.New("aqmon: callback panicked")
	ErrUnknownServer  = errors.New("aqmon: unknown server")
	ErrConfigInvalid  = errors.New("aqmon: invalid configuration")
	ErrCaptureTimeout = errors.New("aqmon: capture read timeout")
)
