package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateVariant  = errors.New("indicator variant already registered")
	ErrUnknownVariant    = errors.New("unknown indicator variant")
	ErrInvalidCondition  = errors.New("malformed condition group")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrNotConnected      = errors.New("websocket not connected")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrNotSubscribed     = errors.New("symbol not subscribed")
	ErrStaleBook         = errors.New("order book is stale")
	ErrOutOfOrderTick    = errors.New("tick timestamp not strictly increasing")
	ErrContextDone       = errors.New("context cancelled")
	ErrInstanceInactive  = errors.New("strategy instance is inactive")
	ErrInsufficientTicks = errors.New("insufficient window samples")
)
