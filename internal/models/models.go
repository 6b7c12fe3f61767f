package models

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Phase represents the coarse lifecycle state of a room. Progression is
// forward-only: WAITING_FOR_JOIN -> IN_PROGRESS -> (COMPLETED | CANCELLED),
// and CANCELLED is only reachable from WAITING_FOR_JOIN.
type Phase string

const (
	PhaseWaitingForJoin Phase = "WAITING_FOR_JOIN"
	PhaseInProgress     Phase = "IN_PROGRESS"
	PhaseCompleted      Phase = "COMPLETED"
	PhaseCancelled      Phase = "CANCELLED"
)

// PhaseFromUint8 maps the on-chain phase value to a Phase.
func PhaseFromUint8(v uint8) (Phase, error) {
	switch v {
	case 0:
		return PhaseWaitingForJoin, nil
	case 1:
		return PhaseInProgress, nil
	case 2:
		return PhaseCompleted, nil
	case 3:
		return PhaseCancelled, nil
	default:
		return "", fmt.Errorf("unknown phase value %d", v)
	}
}

// Terminal reports whether the phase can never advance again.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// Handle is an opaque reference to a ciphertext held by the FHE system.
// The zero value is the contract's "unset" sentinel.
type Handle [32]byte

// HandleFromHex parses a 0x-prefixed or bare hex string into a Handle.
func HandleFromHex(s string) (Handle, error) {
	var h Handle
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid handle hex: %w", err)
	}
	if len(raw) != 32 {
		return h, fmt.Errorf("invalid handle length: %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// Hex returns the 0x-prefixed hex encoding of the handle.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether the handle is the unset sentinel.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Room is the client-side projection of one game instance.
type Room struct {
	RoomID          string
	Creator         common.Address
	Opponent        common.Address
	Wager           *big.Int
	Phase           Phase
	TurnCount       uint64
	EncryptedWinner Handle
	CreatedAt       time.Time
	LastActiveAt    time.Time
}

// HasOpponent reports whether a second player has joined.
func (r *Room) HasOpponent() bool {
	return r.Opponent != (common.Address{})
}

// TurnOwner returns the address whose turn it is. Ownership is derived from
// TurnCount parity and never stored: creator on even counts, opponent on odd.
func (r *Room) TurnOwner() common.Address {
	if r.TurnCount%2 == 0 {
		return r.Creator
	}
	return r.Opponent
}

// IsPlayerTurn reports whether the given address owns the current turn.
func (r *Room) IsPlayerTurn(addr common.Address) bool {
	return r.TurnOwner() == addr
}

// DigitCount is the length of a vault code and of every probe.
const DigitCount = 4

// Digits is an ordered probe or vault code: exactly four symbols from the
// 0-9 alphabet, each unique within the sequence.
type Digits [DigitCount]uint8

// ParseDigits parses a string like "0417" into Digits, validating it.
func ParseDigits(s string) (Digits, error) {
	var d Digits
	if len(s) != DigitCount {
		return d, &ValidationError{Field: "digits", Reason: fmt.Sprintf("expected %d digits, got %d", DigitCount, len(s))}
	}
	for i := 0; i < DigitCount; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return d, &ValidationError{Field: "digits", Reason: fmt.Sprintf("character %q is not a digit", c)}
		}
		d[i] = c - '0'
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

// Validate checks range and uniqueness. Rejections happen before any
// network call is made.
func (d Digits) Validate() error {
	var seen [10]bool
	for _, v := range d {
		if v > 9 {
			return &ValidationError{Field: "digits", Reason: fmt.Sprintf("digit %d out of range", v)}
		}
		if seen[v] {
			return &ValidationError{Field: "digits", Reason: fmt.Sprintf("duplicate digit %d", v)}
		}
		seen[v] = true
	}
	return nil
}

// String renders the digits as a compact string like "0417".
func (d Digits) String() string {
	b := make([]byte, DigitCount)
	for i, v := range d {
		b[i] = '0' + v
	}
	return string(b)
}

// GuessResult is the cleartext feedback for one resolved probe.
// Breached counts correct symbol and position, Injured counts correct
// symbol in the wrong position. Breached+Injured never exceeds DigitCount.
type GuessResult struct {
	Breached int
	Injured  int
}

// Valid reports whether the result satisfies the feedback invariant.
func (g GuessResult) Valid() bool {
	return g.Breached >= 0 && g.Injured >= 0 && g.Breached+g.Injured <= DigitCount
}

// IsWin reports whether the result breaches the full vault.
func (g GuessResult) IsWin() bool {
	return g.Breached == DigitCount
}

// Guess is one submitted probe within a room, keyed by TurnIndex (the
// room's TurnCount at submission time). A guess transitions pending ->
// resolved exactly once and is never deleted.
type Guess struct {
	TurnIndex uint64
	Digits    Digits
	Submitter common.Address
	Timestamp time.Time
	Pending   bool
	Result    *GuessResult
	TxHash    string
}
