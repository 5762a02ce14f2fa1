package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrLockHeld            = errors.New("lock already held")
	ErrSigningFailed       = errors.New("signing failed")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrNoInstructions      = errors.New("no instructions to execute")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTxFailed            = errors.New("transaction failed")
	ErrTxNotIncluded       = errors.New("transaction not included")
	ErrZeroPrice           = errors.New("oracle price is zero")
)
