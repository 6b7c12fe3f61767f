package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies one of the contract's log types.
type EventKind string

const (
	EventRoomCreated     EventKind = "RoomCreated"
	EventRoomJoined      EventKind = "RoomJoined"
	EventVaultSubmitted  EventKind = "VaultSubmitted"
	EventProbeSubmitted  EventKind = "ProbeSubmitted"
	EventResultComputed  EventKind = "ResultComputed"
	EventWinnerDecrypted EventKind = "WinnerDecrypted"
	EventGameFinished    EventKind = "GameFinished"
	EventRoomCancelled   EventKind = "RoomCancelled"
)

// EventKey is the physical identity of one on-chain log entry. The same
// key must never be dispatched to handlers twice.
type EventKey struct {
	TxHash   common.Hash
	LogIndex uint
}

// EventMeta carries the fields shared by every domain event.
type EventMeta struct {
	RoomID      string
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
}

// Key returns the event's physical identity.
func (m EventMeta) Key() EventKey {
	return EventKey{TxHash: m.TxHash, LogIndex: m.LogIndex}
}

// Meta implements DomainEvent.
func (m EventMeta) Meta() EventMeta { return m }

// DomainEvent is the normalized, typed representation of one on-chain log.
// One variant exists per event kind; dispatch matches exhaustively.
type DomainEvent interface {
	Kind() EventKind
	Meta() EventMeta
}

// RoomCreatedEvent signals a new room opened by its creator.
type RoomCreatedEvent struct {
	EventMeta
	Creator common.Address
	Wager   *big.Int
}

func (RoomCreatedEvent) Kind() EventKind { return EventRoomCreated }

// RoomJoinedEvent signals an opponent entering the room.
type RoomJoinedEvent struct {
	EventMeta
	Opponent common.Address
}

func (RoomJoinedEvent) Kind() EventKind { return EventRoomJoined }

// VaultSubmittedEvent signals a player's encrypted vault landing on-chain.
type VaultSubmittedEvent struct {
	EventMeta
	Player common.Address
}

func (VaultSubmittedEvent) Kind() EventKind { return EventVaultSubmitted }

// ProbeSubmittedEvent signals an accepted probe, before its result exists.
type ProbeSubmittedEvent struct {
	EventMeta
	Submitter common.Address
	TurnIndex uint64
}

func (ProbeSubmittedEvent) Kind() EventKind { return EventProbeSubmitted }

// ResultComputedEvent carries the encrypted per-turn feedback. All handles
// must be decrypted together in one batched oracle request.
type ResultComputedEvent struct {
	EventMeta
	Submitter      common.Address
	TurnIndex      uint64
	BreachesHandle Handle
	SignalsHandle  Handle
	WinHandle      Handle
	GuessHandles   [DigitCount]Handle
}

func (ResultComputedEvent) Kind() EventKind { return EventResultComputed }

// WinnerDecryptedEvent signals the winner cleartext landing on-chain.
type WinnerDecryptedEvent struct {
	EventMeta
	Winner common.Address
}

func (WinnerDecryptedEvent) Kind() EventKind { return EventWinnerDecrypted }

// GameFinishedEvent signals settlement and wager release.
type GameFinishedEvent struct {
	EventMeta
	Winner common.Address
}

func (GameFinishedEvent) Kind() EventKind { return EventGameFinished }

// RoomCancelledEvent signals a room cancelled before an opponent joined.
type RoomCancelledEvent struct {
	EventMeta
}

func (RoomCancelledEvent) Kind() EventKind { return EventRoomCancelled }
