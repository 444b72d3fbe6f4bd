package transport

import "errors"

var (
	ErrTimeout         = errors.New("transport: wait timed out")
	ErrClosed          = errors.New("transport: entity is closed")
	ErrUnknownInstance = errors.New("transport: unknown instance handle")
	ErrInvalidTopic    = errors.New("transport: invalid topic name")
)
