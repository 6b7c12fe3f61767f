package game

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultwars/internal/models"
)

var (
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	opponent = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newTestReducer(player common.Address) *Reducer {
	r := NewReducer(player, zap.NewNop())
	r.AttachRoom("42", nil)
	return r
}

func inProgressRoom(turnCount uint64, lastActive time.Time) *models.Room {
	return &models.Room{
		RoomID:       "42",
		Creator:      creator,
		Opponent:     opponent,
		Phase:        models.PhaseInProgress,
		TurnCount:    turnCount,
		LastActiveAt: lastActive,
	}
}

func TestUpsertIsIdempotentAcrossPaths(t *testing.T) {
	r := newTestReducer(creator)
	digits := models.Digits{0, 4, 1, 7}

	// Optimistic local insert first, then the event-derived resolution
	// for the same turn index: exactly one entry must remain.
	r.ProbeSubmittedLocally(0, digits, creator, "0xabc")
	r.ApplyResult("42", creator, 0, digits, models.GuessResult{Breached: 2, Injured: 1}, false)

	state := r.Snapshot()
	if len(state.Guesses) != 1 {
		t.Fatalf("expected exactly one guess, got %d", len(state.Guesses))
	}
	g := state.Guesses[0]
	if g.Pending {
		t.Error("expected guess resolved after result")
	}
	if g.Result == nil || g.Result.Breached != 2 || g.Result.Injured != 1 {
		t.Errorf("unexpected result: %+v", g.Result)
	}
	if g.TxHash != "0xabc" {
		t.Errorf("expected tx hash preserved through merge, got %q", g.TxHash)
	}

	// The reverse order converges to the same single entry too, and a
	// resolved guess never reverts to pending.
	r2 := newTestReducer(creator)
	r2.ApplyResult("42", creator, 0, digits, models.GuessResult{Breached: 2, Injured: 1}, false)
	r2.ProbeSubmittedLocally(0, digits, creator, "0xabc")

	state2 := r2.Snapshot()
	if len(state2.Guesses) != 1 {
		t.Fatalf("expected exactly one guess, got %d", len(state2.Guesses))
	}
	if state2.Guesses[0].Pending {
		t.Error("resolved guess reverted to pending")
	}
}

func TestApplyResultRejectsInvariantViolations(t *testing.T) {
	r := newTestReducer(creator)
	digits := models.Digits{0, 4, 1, 7}

	// breached + injured > 4
	effects := r.ApplyResult("42", creator, 0, digits, models.GuessResult{Breached: 3, Injured: 2}, false)
	if effects != nil {
		t.Error("expected no effects for invalid result")
	}
	// full breach without win flag is a contradiction
	effects = r.ApplyResult("42", creator, 0, digits, models.GuessResult{Breached: 4, Injured: 0}, false)
	if effects != nil {
		t.Error("expected no effects for contradictory result")
	}
	if got := len(r.Snapshot().Guesses); got != 0 {
		t.Errorf("expected no guesses projected, got %d", got)
	}
}

func TestWinRoutedBySubmitterAddress(t *testing.T) {
	digits := models.Digits{0, 4, 1, 7}
	win := models.GuessResult{Breached: 4, Injured: 0}

	// Creator's client: creator submitted the winning probe, outcome "won".
	rA := newTestReducer(creator)
	effects := rA.ApplyResult("42", creator, 3, digits, win, true)

	var announced *AnnounceOutcome
	var finalized *TriggerFinalize
	for _, eff := range effects {
		switch e := eff.(type) {
		case AnnounceOutcome:
			announced = &e
		case TriggerFinalize:
			finalized = &e
		}
	}
	if announced == nil || !announced.Outcome.Won {
		t.Errorf("expected creator announced as winner, got %+v", announced)
	}
	if finalized == nil || finalized.RoomID != "42" {
		t.Errorf("expected finalization triggered for room 42, got %+v", finalized)
	}

	// Opponent's client sees the same event and derives "lost".
	rB := newTestReducer(opponent)
	rB.ApplyResult("42", creator, 3, digits, win, true)
	state := rB.Snapshot()
	if state.Outcome == nil || state.Outcome.Won {
		t.Errorf("expected opponent outcome lost, got %+v", state.Outcome)
	}
}

func TestHandleEventRoutesByKind(t *testing.T) {
	r := newTestReducer(creator)
	ctx := context.Background()
	meta := models.EventMeta{RoomID: "42", BlockNumber: 10}

	// Room-mutating events resync via a fresh read.
	effects := r.HandleEvent(ctx, models.RoomJoinedEvent{EventMeta: meta, Opponent: opponent})
	if len(effects) != 1 {
		t.Fatalf("expected one effect, got %d", len(effects))
	}
	if _, ok := effects[0].(RefreshRoom); !ok {
		t.Errorf("expected RefreshRoom, got %T", effects[0])
	}

	// Encrypted results are handed back for decryption, not applied raw.
	resultEv := models.ResultComputedEvent{EventMeta: meta, Submitter: creator, TurnIndex: 0}
	effects = r.HandleEvent(ctx, resultEv)
	if len(effects) != 1 {
		t.Fatalf("expected one effect, got %d", len(effects))
	}
	if _, ok := effects[0].(DecodeResult); !ok {
		t.Errorf("expected DecodeResult, got %T", effects[0])
	}

	// Events for other rooms are ignored.
	otherMeta := models.EventMeta{RoomID: "99", BlockNumber: 10}
	effects = r.HandleEvent(ctx, models.RoomJoinedEvent{EventMeta: otherMeta, Opponent: opponent})
	if effects != nil {
		t.Errorf("expected no effects for unattached room, got %v", effects)
	}
}

func TestAttachRoomClearsPreviousState(t *testing.T) {
	r := newTestReducer(creator)
	r.ProbeSubmittedLocally(0, models.Digits{0, 4, 1, 7}, creator, "")

	r.AttachRoom("43", nil)
	state := r.Snapshot()
	if state.RoomID != "43" {
		t.Errorf("expected room 43, got %s", state.RoomID)
	}
	if len(state.Guesses) != 0 {
		t.Errorf("expected guesses cleared on room switch, got %d", len(state.Guesses))
	}

	// Reattaching the same room with restored guesses merges, not resets.
	restored := []models.Guess{{TurnIndex: 0, Digits: models.Digits{1, 2, 3, 4}, Submitter: creator}}
	r.AttachRoom("43", restored)
	if got := len(r.Snapshot().Guesses); got != 1 {
		t.Errorf("expected restored guess, got %d", got)
	}
}

func TestTimeoutDerivation(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		player common.Address
		turn   uint64
		idle   time.Duration
		phase  models.Phase
		want   TimeoutState
	}{
		{name: "own turn never times out", player: creator, turn: 0, idle: 10 * time.Minute, phase: models.PhaseInProgress, want: TimeoutNone},
		{name: "fresh activity", player: creator, turn: 1, idle: time.Minute, phase: models.PhaseInProgress, want: TimeoutNone},
		{name: "warning at four minutes", player: creator, turn: 1, idle: 4 * time.Minute, phase: models.PhaseInProgress, want: TimeoutWarning},
		{name: "claimable at five minutes", player: creator, turn: 1, idle: 5 * time.Minute, phase: models.PhaseInProgress, want: TimeoutClaimable},
		{name: "completed room has no timer", player: creator, turn: 1, idle: 10 * time.Minute, phase: models.PhaseCompleted, want: TimeoutNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := inProgressRoom(tt.turn, base)
			room.Phase = tt.phase
			state := State{RoomID: "42", Room: room}
			if got := state.Timeout(tt.player, base.Add(tt.idle)); got != tt.want {
				t.Errorf("Timeout() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGuessesOrderedByTurnIndex(t *testing.T) {
	r := newTestReducer(creator)
	digits := []models.Digits{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9, 0, 1}}

	// Out-of-order arrival still projects in turn order.
	r.ProbeSubmittedLocally(2, digits[2], creator, "")
	r.ProbeSubmittedLocally(0, digits[0], creator, "")
	r.ProbeSubmittedLocally(1, digits[1], opponent, "")

	state := r.Snapshot()
	if len(state.Guesses) != 3 {
		t.Fatalf("expected 3 guesses, got %d", len(state.Guesses))
	}
	for i, g := range state.Guesses {
		if g.TurnIndex != uint64(i) {
			t.Errorf("position %d holds turn %d", i, g.TurnIndex)
		}
	}
}
