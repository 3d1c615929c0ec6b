package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. Each kind maps to one recovery action.
type ErrorKind string

const (
	KindTransientUpstream     ErrorKind = "transient_upstream"
	KindStaleData             ErrorKind = "stale_data"
	KindInvalidFill           ErrorKind = "invalid_fill"
	KindCircuitBreakerTripped ErrorKind = "circuit_breaker_tripped"
	KindLiquidityRejected     ErrorKind = "liquidity_rejected"
)

// Recovery describes what the engine does when it sees the kind.
func (k ErrorKind) Recovery() string {
	switch k {
	case KindTransientUpstream:
		return "retry with backoff then degrade to fallback score"
	case KindStaleData:
		return "treat source as neutral"
	case KindInvalidFill:
		return "abort record keeping for the trade and alert"
	case KindCircuitBreakerTripped:
		return "suppress buys until cooldown"
	case KindLiquidityRejected:
		return "skip this buy"
	}
	return "log"
}

// EngineError is a typed failure carrying its kind.
type EngineError struct {
	Kind  ErrorKind
	Op    string
	Asset string
	Err   error
}

func (e *EngineError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Asset != "" {
		msg += " [" + e.Asset + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches any EngineError of the same kind, so sentinels work with errors.Is.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Op == "" && t.Asset == "" && t.Err == nil
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrTransientUpstream     = &EngineError{Kind: KindTransientUpstream}
	ErrStaleData             = &EngineError{Kind: KindStaleData}
	ErrInvalidFill           = &EngineError{Kind: KindInvalidFill}
	ErrCircuitBreakerTripped = &EngineError{Kind: KindCircuitBreakerTripped}
	ErrLiquidityRejected     = &EngineError{Kind: KindLiquidityRejected}
)

func NewTransientUpstreamError(op, asset string, err error) *EngineError {
	return &EngineError{Kind: KindTransientUpstream, Op: op, Asset: asset, Err: err}
}

func NewStaleDataError(op, asset string, err error) *EngineError {
	return &EngineError{Kind: KindStaleData, Op: op, Asset: asset, Err: err}
}

func NewInvalidFillError(asset, orderID string, f *Fill) *EngineError {
	return &EngineError{Kind: KindInvalidFill, Op: "fill " + orderID, Asset: asset, Err: fmt.Errorf("fill %+v", f)}
}

func NewCircuitBreakerTrippedError(asset, reason string) *EngineError {
	return &EngineError{Kind: KindCircuitBreakerTripped, Op: "breaker", Asset: asset, Err: errors.New(reason)}
}

func NewLiquidityRejectedError(asset string, err error) *EngineError {
	return &EngineError{Kind: KindLiquidityRejected, Op: "liquidity", Asset: asset, Err: err}
}

// KindOf returns the error kind or "" when err is not an EngineError.
func KindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
