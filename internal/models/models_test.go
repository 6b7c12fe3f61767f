package models

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseDigits(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Digits
		wantErr bool
	}{
		{name: "valid", input: "0417", want: Digits{0, 4, 1, 7}},
		{name: "valid descending", input: "9876", want: Digits{9, 8, 7, 6}},
		{name: "duplicate digit", input: "1123", wantErr: true},
		{name: "too short", input: "123", wantErr: true},
		{name: "too long", input: "12345", wantErr: true},
		{name: "non digit", input: "12a4", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDigits(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got digits %v", got)
				}
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Errorf("expected ValidationError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if got.String() != tt.input {
				t.Errorf("round-trip mismatch: %q != %q", got.String(), tt.input)
			}
		})
	}
}

func TestRoomTurnOwnership(t *testing.T) {
	creator := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	opponent := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	room := &Room{
		RoomID:   "42",
		Creator:  creator,
		Opponent: opponent,
	}

	// Even turn count: creator's turn.
	room.TurnCount = 0
	if !room.IsPlayerTurn(creator) {
		t.Error("expected creator's turn at count 0")
	}
	if room.IsPlayerTurn(opponent) {
		t.Error("did not expect opponent's turn at count 0")
	}

	// One accepted probe flips ownership.
	room.TurnCount = 1
	if room.IsPlayerTurn(creator) {
		t.Error("did not expect creator's turn at count 1")
	}
	if !room.IsPlayerTurn(opponent) {
		t.Error("expected opponent's turn at count 1")
	}

	// Parity always agrees with TurnOwner.
	for count := uint64(0); count < 8; count++ {
		room.TurnCount = count
		owner := room.TurnOwner()
		if room.IsPlayerTurn(creator) != (owner == creator) {
			t.Errorf("parity mismatch at count %d", count)
		}
	}
}

func TestGuessResultInvariant(t *testing.T) {
	tests := []struct {
		name   string
		result GuessResult
		valid  bool
		win    bool
	}{
		{name: "all breached", result: GuessResult{Breached: 4, Injured: 0}, valid: true, win: true},
		{name: "mixed", result: GuessResult{Breached: 2, Injured: 2}, valid: true},
		{name: "none", result: GuessResult{}, valid: true},
		{name: "sum exceeds digits", result: GuessResult{Breached: 3, Injured: 2}, valid: false},
		{name: "negative", result: GuessResult{Breached: -1, Injured: 0}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.result.IsWin(); got != tt.win {
				t.Errorf("IsWin() = %v, want %v", got, tt.win)
			}
		})
	}
}

func TestHandleHexRoundTrip(t *testing.T) {
	h, err := HandleFromHex("0x0102030405060708091011121314151617181920212223242526272829303132")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.IsZero() {
		t.Error("expected non-zero handle")
	}
	back, err := HandleFromHex(h.Hex())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != h {
		t.Errorf("round-trip mismatch: %s != %s", back.Hex(), h.Hex())
	}

	var zero Handle
	if !zero.IsZero() {
		t.Error("expected zero handle sentinel")
	}

	if _, err := HandleFromHex("0x0102"); err == nil {
		t.Error("expected error for short handle")
	}
}
