package mq

import "errors"

var (
	ErrNoChannel = errors.New("mq: no channel available")
	ErrClosed    = errors.New("mq: connection closed")
)
