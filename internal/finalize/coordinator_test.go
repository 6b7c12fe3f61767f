package finalize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultwars/internal/models"
	"vaultwars/internal/oracle"
)

type fakeReader struct {
	mu          sync.Mutex
	rooms       map[string]*models.Room
	invalidated int
	// swapped in on Invalidate, simulating a chain re-read that now
	// sees the winner handle
	afterInvalidate *models.Room
}

func (f *fakeReader) Room(ctx context.Context, roomID string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeReader) Invalidate(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	if f.afterInvalidate != nil {
		f.rooms[roomID] = f.afterInvalidate
	}
}

type fakeDecrypter struct {
	calls  atomic.Int64
	gate   chan struct{}
	err    error
	winner uint64
}

func (f *fakeDecrypter) PublicDecrypt(ctx context.Context, handles []models.Handle) (*oracle.DecryptionResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	values := make(map[models.Handle]uint64, len(handles))
	for _, h := range handles {
		values[h] = f.winner
	}
	return &oracle.DecryptionResult{Values: values, Proof: []byte("proof")}, nil
}

type fakeSubmitter struct {
	calls atomic.Int64
	err   error
}

func (f *fakeSubmitter) FulfillDecryption(ctx context.Context, roomID string, cleartext, proof []byte) (common.Hash, error) {
	f.calls.Add(1)
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return common.HexToHash("0xabc"), nil
}

func roomWithWinner() *models.Room {
	return &models.Room{
		RoomID:          "42",
		Creator:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Phase:           models.PhaseInProgress,
		EncryptedWinner: models.Handle{0xaa, 0xbb},
	}
}

func TestFinalizeSubmitsOnce(t *testing.T) {
	reader := &fakeReader{rooms: map[string]*models.Room{"42": roomWithWinner()}}
	dec := &fakeDecrypter{winner: 1}
	sub := &fakeSubmitter{}
	c := NewCoordinator(reader, dec, sub, zap.NewNop())

	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	// Done rooms short-circuit before touching the oracle again.
	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}
	if got := dec.calls.Load(); got != 1 {
		t.Errorf("expected 1 decrypt call, got %d", got)
	}
	if got := sub.calls.Load(); got != 1 {
		t.Errorf("expected 1 submit call, got %d", got)
	}
}

func TestConcurrentTriggersShortCircuit(t *testing.T) {
	reader := &fakeReader{rooms: map[string]*models.Room{"42": roomWithWinner()}}
	dec := &fakeDecrypter{winner: 1, gate: make(chan struct{})}
	sub := &fakeSubmitter{}
	c := NewCoordinator(reader, dec, sub, zap.NewNop())

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- c.Finalize(context.Background(), "42")
	}()
	// Wait until the first attempt holds the in-flight slot.
	for dec.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// Both the interactive and silent paths share the guard.
	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("concurrent Finalize should be a no-op, got %v", err)
	}
	c.FinalizeSilent(context.Background(), "42")

	close(dec.gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}
	if got := sub.calls.Load(); got != 1 {
		t.Errorf("expected 1 submit call, got %d", got)
	}
}

func TestFinalizeRereadsWhenWinnerUnset(t *testing.T) {
	stale := roomWithWinner()
	stale.EncryptedWinner = models.Handle{}
	reader := &fakeReader{
		rooms:           map[string]*models.Room{"42": stale},
		afterInvalidate: roomWithWinner(),
	}
	dec := &fakeDecrypter{winner: 2}
	sub := &fakeSubmitter{}
	c := NewCoordinator(reader, dec, sub, zap.NewNop())

	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if reader.invalidated == 0 {
		t.Error("expected a cache invalidation before the re-read")
	}
	if got := sub.calls.Load(); got != 1 {
		t.Errorf("expected 1 submit call, got %d", got)
	}
}

func TestFinalizeFailsFastWhenCiphertextNeverReady(t *testing.T) {
	stale := roomWithWinner()
	stale.EncryptedWinner = models.Handle{}
	reader := &fakeReader{rooms: map[string]*models.Room{"42": stale}}
	dec := &fakeDecrypter{winner: 1}
	sub := &fakeSubmitter{}
	c := NewCoordinator(reader, dec, sub, zap.NewNop())

	err := c.Finalize(context.Background(), "42")
	if !errors.Is(err, models.ErrCiphertextNotReady) {
		t.Fatalf("expected ErrCiphertextNotReady, got %v", err)
	}
	if dec.calls.Load() != 0 || sub.calls.Load() != 0 {
		t.Error("must not decrypt or submit without the winner handle")
	}
	// The failed attempt releases the in-flight slot for a later retry.
	reader.mu.Lock()
	reader.rooms["42"] = roomWithWinner()
	reader.mu.Unlock()
	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("retry after ciphertext became ready failed: %v", err)
	}
}

func TestAlreadyFinalizedRevertIsSuccess(t *testing.T) {
	reader := &fakeReader{rooms: map[string]*models.Room{"42": roomWithWinner()}}
	dec := &fakeDecrypter{winner: 1}
	sub := &fakeSubmitter{err: fmt.Errorf("execution reverted: game finished")}
	c := NewCoordinator(reader, dec, sub, zap.NewNop())

	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("already-finalized revert must convert to success, got %v", err)
	}
	// The room is marked done, so no further submission is attempted.
	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("Finalize after done failed: %v", err)
	}
	if got := sub.calls.Load(); got != 1 {
		t.Errorf("expected 1 submit call, got %d", got)
	}
}

func TestDecryptFailureSurfacesAndAllowsRetry(t *testing.T) {
	reader := &fakeReader{rooms: map[string]*models.Room{"42": roomWithWinner()}}
	dec := &fakeDecrypter{err: &models.OracleError{Op: "public-decrypt", Err: errors.New("unreachable")}}
	sub := &fakeSubmitter{}
	c := NewCoordinator(reader, dec, sub, zap.NewNop())

	var oracleErr *models.OracleError
	if err := c.Finalize(context.Background(), "42"); !errors.As(err, &oracleErr) {
		t.Fatalf("expected OracleError, got %v", err)
	}
	if sub.calls.Load() != 0 {
		t.Error("must not submit after a failed decryption")
	}

	dec.err = nil
	dec.winner = 1
	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("retry after oracle recovery failed: %v", err)
	}
	if got := sub.calls.Load(); got != 1 {
		t.Errorf("expected 1 submit call after retry, got %d", got)
	}
}

func TestCompletedRoomShortCircuits(t *testing.T) {
	room := roomWithWinner()
	room.Phase = models.PhaseCompleted
	reader := &fakeReader{rooms: map[string]*models.Room{"42": room}}
	dec := &fakeDecrypter{winner: 1}
	sub := &fakeSubmitter{}
	c := NewCoordinator(reader, dec, sub, zap.NewNop())

	if err := c.Finalize(context.Background(), "42"); err != nil {
		t.Fatalf("Finalize on completed room failed: %v", err)
	}
	if dec.calls.Load() != 0 || sub.calls.Load() != 0 {
		t.Error("completed room must not decrypt or submit")
	}
}

func TestIsAlreadyFinalized(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("execution reverted: Already Finalized"), true},
		{fmt.Errorf("send tx: %w", models.ErrAlreadyFinalized), true},
		{errors.New("execution reverted: not your turn"), false},
		{errors.New("rpc timeout"), false},
	}
	for _, tc := range cases {
		if got := IsAlreadyFinalized(tc.err); got != tc.want {
			t.Errorf("IsAlreadyFinalized(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
