package cli

import "errors"

var (
	// ErrRejected — Instruction не прошла проверку (check, ping).
	ErrRejected = errors.New("instruction rejected")

	// ErrUnreachable — ping не получил успешного ответа.
	ErrUnreachable = errors.New("target unreachable")

	ErrNoBroker = errors.New("amqp.url is not configured")
)
