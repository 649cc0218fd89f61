package domain

import "errors"

// Error taxonomy (sentinels). Every error that crosses a component
// boundary wraps exactly one of these kinds so callers can branch with
// errors.Is without knowing the producing adapter.
var (
	ErrConfig              = errors.New("configuration error")
	ErrDatabase            = errors.New("database error")
	ErrRPC                 = errors.New("rpc error")
	ErrChainClient         = errors.New("chain client error")
	ErrSerialization       = errors.New("serialization error")
	ErrIO                  = errors.New("io error")
	ErrHTTP                = errors.New("http error")
	ErrWebSocket           = errors.New("websocket error")
	ErrMonitoring          = errors.New("monitoring error")
	ErrExecution           = errors.New("execution error")
	ErrEvaluation          = errors.New("evaluation error")
	ErrInvalidJob          = errors.New("invalid job")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransaction         = errors.New("transaction failed")
	ErrNotRegistered       = errors.New("keeper not registered")
	ErrAlreadyRegistered   = errors.New("keeper already registered")
	ErrInvalidTrigger      = errors.New("invalid trigger condition")
	ErrRateLimit           = errors.New("rate limit exceeded")
	ErrInternal            = errors.New("internal error")
)
