package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")

	// ErrFeedDisconnect marks a recoverable feed drop; the feed reconnects
	// and resumes from the last known book snapshot.
	ErrFeedDisconnect = errors.New("feed disconnected")

	// ErrGatewayTimeout marks an order submission that received no ack
	// within the configured window. The order is reconciled via a status
	// query and falls back to rejected if unresolvable.
	ErrGatewayTimeout = errors.New("gateway ack timeout")

	// ErrProtocolInconsistency marks a fill arriving for a terminal or
	// unknown order. The affected order and its positions are frozen
	// pending manual reconciliation; state is never guessed at.
	ErrProtocolInconsistency = errors.New("protocol inconsistency")

	// ErrRiskBreach marks a daily-loss or kill-switch halt. It stops new
	// admissions engine-wide without terminating the process.
	ErrRiskBreach = errors.New("risk breach")
)
