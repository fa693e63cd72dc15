package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientExchanges = errors.New("at least two exchanges are required")
	ErrInvalidRange          = errors.New("symbol, from and to are required and from must precede to")
	ErrLockHeld              = errors.New("lock already held")
	ErrUnknownChannel        = errors.New("unknown alert channel")
	ErrWSDisconnect          = errors.New("websocket disconnected")
)
