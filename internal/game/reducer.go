package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultwars/internal/models"
)

// Timeout thresholds, measured against the room's LastActiveAt.
const (
	TimeoutWarnAfter  = 4 * time.Minute
	TimeoutClaimAfter = 5 * time.Minute
)

// TimeoutState is the derived idle-timer condition for the local player.
type TimeoutState string

const (
	TimeoutNone      TimeoutState = "NONE"
	TimeoutWarning   TimeoutState = "WARNING"
	TimeoutClaimable TimeoutState = "CLAIMABLE"
)

// Outcome is the win/loss signal raised for the local player when a
// winning result is observed.
type Outcome struct {
	Won       bool
	TurnIndex uint64
}

// State is the authoritative client-side projection for the single room
// the engine is attached to.
type State struct {
	RoomID  string
	Room    *models.Room
	Guesses []models.Guess
	Outcome *Outcome
}

// IsPlayerTurn derives turn ownership from TurnCount parity. Never stored.
func (s State) IsPlayerTurn(addr common.Address) bool {
	if s.Room == nil {
		return false
	}
	return s.Room.IsPlayerTurn(addr)
}

// Timeout derives the idle-timer condition at the given instant. The
// local player may only claim while waiting on the other player's turn.
func (s State) Timeout(player common.Address, now time.Time) TimeoutState {
	if s.Room == nil || s.Room.Phase != models.PhaseInProgress {
		return TimeoutNone
	}
	if s.Room.IsPlayerTurn(player) {
		return TimeoutNone
	}
	idle := now.Sub(s.Room.LastActiveAt)
	switch {
	case idle >= TimeoutClaimAfter:
		return TimeoutClaimable
	case idle >= TimeoutWarnAfter:
		return TimeoutWarning
	default:
		return TimeoutNone
	}
}

// Effect is a command returned by a state transition for the caller to
// execute. Transitions themselves never perform I/O.
type Effect interface{ effect() }

// RefreshRoom asks for the room record to be re-read from chain and fed
// back through RoomLoaded.
type RefreshRoom struct{ RoomID string }

// PersistGuess asks for a guess to be written to durable storage.
type PersistGuess struct {
	RoomID string
	Guess  models.Guess
}

// DecodeResult asks for a ResultComputed event's handles to be decrypted
// by the oracle and the cleartext applied via ApplyResult.
type DecodeResult struct{ Event models.ResultComputedEvent }

// TriggerFinalize asks for background finalization of a detected win.
type TriggerFinalize struct{ RoomID string }

// AnnounceOutcome surfaces the win/loss signal for the local player.
type AnnounceOutcome struct {
	RoomID  string
	Outcome Outcome
}

func (RefreshRoom) effect()     {}
func (PersistGuess) effect()    {}
func (DecodeResult) effect()    {}
func (TriggerFinalize) effect() {}
func (AnnounceOutcome) effect() {}

// Reducer owns the room/guess projection and is its only mutation path.
// Every transition is an idempotent upsert or a wholesale replace, so the
// optimistic local path and the event-derived path can both feed it
// without producing duplicates.
type Reducer struct {
	player common.Address
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State
}

// NewReducer creates a reducer for the local player address.
func NewReducer(player common.Address, logger *zap.Logger) *Reducer {
	return &Reducer{
		player: player,
		logger: logger.Named("reducer"),
		now:    time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (r *Reducer) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Player returns the local player address the reducer routes outcomes for.
func (r *Reducer) Player() common.Address {
	return r.player
}

// AttachRoom points the reducer at a room, clearing any previous room's
// guesses and seeding the list from restored durable storage. Restored
// guesses and later event replay converge through the same upsert.
func (r *Reducer) AttachRoom(roomID string, restored []models.Guess) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.RoomID == roomID {
		for _, g := range restored {
			r.upsertLocked(g)
		}
		return
	}

	r.state = State{RoomID: roomID}
	for _, g := range restored {
		r.upsertLocked(g)
	}

	r.logger.Info("Attached to room",
		zap.String("room_id", roomID),
		zap.Int("restored_guesses", len(restored)))
}

// AttachedRoom returns the id of the room currently projected, if any.
func (r *Reducer) AttachedRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.RoomID
}

// Snapshot returns a copy of the current projection for presentation.
func (r *Reducer) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.state
	out.Guesses = make([]models.Guess, len(r.state.Guesses))
	copy(out.Guesses, r.state.Guesses)
	if r.state.Room != nil {
		room := *r.state.Room
		out.Room = &room
	}
	if r.state.Outcome != nil {
		oc := *r.state.Outcome
		out.Outcome = &oc
	}
	return out
}

// RoomLoaded replaces the room record wholesale with a fresh chain read.
func (r *Reducer) RoomLoaded(room *models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.RoomID != "" && room.RoomID != r.state.RoomID {
		return
	}
	r.state.Room = room
}

// ProbeSubmittedLocally records an optimistic pending guess at the turn
// index the probe was submitted under. If a guess with that index already
// exists the call merges into it instead of appending a second entry.
func (r *Reducer) ProbeSubmittedLocally(turnIndex uint64, digits models.Digits, submitter common.Address, txHash string) []Effect {
	r.mu.Lock()
	defer r.mu.Unlock()

	guess := models.Guess{
		TurnIndex: turnIndex,
		Digits:    digits,
		Submitter: submitter,
		Timestamp: r.now(),
		Pending:   true,
		TxHash:    txHash,
	}
	merged := r.upsertLocked(guess)

	return []Effect{PersistGuess{RoomID: r.state.RoomID, Guess: merged}}
}

// ApplyResult records the decrypted feedback for one probe and raises the
// win flow when the vault was fully breached. The same idempotent upsert
// used for optimistic inserts resolves the pending entry in place.
func (r *Reducer) ApplyResult(roomID string, submitter common.Address, turnIndex uint64, digits models.Digits, result models.GuessResult, isWin bool) []Effect {
	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID != r.state.RoomID {
		return nil
	}
	if !result.Valid() {
		r.logger.Error("Rejecting result violating feedback invariant",
			zap.String("room_id", roomID),
			zap.Uint64("turn_index", turnIndex),
			zap.Int("breached", result.Breached),
			zap.Int("injured", result.Injured))
		return nil
	}
	if result.IsWin() && !isWin {
		// A fully-breached vault without the win flag contradicts the
		// contract's own feedback; never project it.
		r.logger.Error("Rejecting contradictory result: full breach without win flag",
			zap.String("room_id", roomID),
			zap.Uint64("turn_index", turnIndex))
		return nil
	}

	guess := models.Guess{
		TurnIndex: turnIndex,
		Digits:    digits,
		Submitter: submitter,
		Timestamp: r.now(),
		Pending:   false,
		Result:    &result,
	}
	merged := r.upsertLocked(guess)

	effects := []Effect{
		PersistGuess{RoomID: roomID, Guess: merged},
		// The accepted probe advanced TurnCount and LastActiveAt
		// on-chain; resync rather than guess at the new values.
		RefreshRoom{RoomID: roomID},
	}

	if isWin {
		outcome := Outcome{Won: submitter == r.player, TurnIndex: turnIndex}
		r.state.Outcome = &outcome
		effects = append(effects,
			TriggerFinalize{RoomID: roomID},
			AnnounceOutcome{RoomID: roomID, Outcome: outcome},
		)
	}

	return effects
}

// HandleEvent feeds one deduplicated domain event through the projection,
// returning the effects the caller must execute. Events for rooms other
// than the attached one are ignored.
func (r *Reducer) HandleEvent(ctx context.Context, ev models.DomainEvent) []Effect {
	r.mu.Lock()
	roomID := r.state.RoomID
	r.mu.Unlock()

	if roomID == "" || ev.Meta().RoomID != roomID {
		return nil
	}

	switch e := ev.(type) {
	case models.RoomCreatedEvent, models.RoomJoinedEvent, models.VaultSubmittedEvent,
		models.WinnerDecryptedEvent, models.GameFinishedEvent, models.RoomCancelledEvent:
		// Room mutated server-side; the projection resyncs from a fresh
		// read instead of patching fields locally.
		return []Effect{RefreshRoom{RoomID: roomID}}

	case models.ProbeSubmittedEvent:
		r.mu.Lock()
		merged := r.upsertLocked(models.Guess{
			TurnIndex: e.TurnIndex,
			Submitter: e.Submitter,
			Timestamp: r.now(),
			Pending:   true,
			TxHash:    e.TxHash.Hex(),
		})
		r.mu.Unlock()
		return []Effect{
			PersistGuess{RoomID: roomID, Guess: merged},
			RefreshRoom{RoomID: roomID},
		}

	case models.ResultComputedEvent:
		// Decryption is asynchronous I/O; hand it back as an effect and
		// re-enter through ApplyResult with the cleartext.
		return []Effect{DecodeResult{Event: e}}

	default:
		r.logger.Warn("Unhandled event kind", zap.String("kind", string(ev.Kind())))
		return nil
	}
}

// upsertLocked is the single mutation entry point for the guess list:
// insert by TurnIndex if absent, merge if present. A resolved guess never
// reverts to pending. Returns the merged entry. Caller holds r.mu.
func (r *Reducer) upsertLocked(g models.Guess) models.Guess {
	for i := range r.state.Guesses {
		if r.state.Guesses[i].TurnIndex != g.TurnIndex {
			continue
		}
		existing := &r.state.Guesses[i]
		if g.Digits != (models.Digits{}) {
			existing.Digits = g.Digits
		}
		if existing.Submitter == (common.Address{}) {
			existing.Submitter = g.Submitter
		}
		if existing.TxHash == "" {
			existing.TxHash = g.TxHash
		}
		if existing.Pending && !g.Pending {
			existing.Pending = false
			existing.Result = g.Result
		} else if !existing.Pending && existing.Result == nil && g.Result != nil {
			existing.Result = g.Result
		}
		return *existing
	}

	r.state.Guesses = append(r.state.Guesses, g)
	sort.Slice(r.state.Guesses, func(i, j int) bool {
		return r.state.Guesses[i].TurnIndex < r.state.Guesses[j].TurnIndex
	})
	return g
}
