package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
var (
	// ErrRoomNotFound is returned when the contract has no room for an id.
	// Callers must treat this as "room state unknown", never as defaults.
	ErrRoomNotFound = errors.New("room not found")

	// ErrProbeNotFound is returned when no probe exists for a turn index.
	ErrProbeNotFound = errors.New("probe not found")

	// ErrVaultNotFound is returned when no vault digits are stored for
	// a (room, player) pair.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrCiphertextNotReady is returned when finalization is attempted
	// before the encrypted winner handle has been populated on-chain.
	// Retryable, not fatal.
	ErrCiphertextNotReady = errors.New("winner ciphertext not ready")

	// ErrAlreadyFinalized is the normalized form of the contract's
	// "already finalized" revert. Treated as success by finalization.
	ErrAlreadyFinalized = errors.New("game already finalized")
)

// ChainReadError wraps an RPC/timeout failure on a read path. Retryable;
// cached state is not corrupted by it.
type ChainReadError struct {
	Op  string
	Err error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

// ChainWriteError wraps a rejected or reverted transaction. Surfaced to
// the user, not retried automatically.
type ChainWriteError struct {
	Op  string
	Err error
}

func (e *ChainWriteError) Error() string {
	return fmt.Sprintf("chain write %s: %v", e.Op, e.Err)
}

func (e *ChainWriteError) Unwrap() error { return e.Err }

// OracleError wraps a decryption or encryption failure from the FHE
// oracle. Callers retry or surface it; a failed decryption is never
// silently treated as a negative result.
type OracleError struct {
	Op  string
	Err error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// ValidationError is a client-side input rejection raised before any
// network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
