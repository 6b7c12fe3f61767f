package evm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultwars/internal/models"
)

// fakeSource counts fetches and can be made slow or failing.
type fakeSource struct {
	RoomSource

	mu      sync.Mutex
	fetches int32
	delay   time.Duration
	err     error
	room    *models.Room
}

func (f *fakeSource) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	room := *f.room
	room.RoomID = roomID
	return &room, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		room: &models.Room{
			Creator:   common.HexToAddress("0xaa"),
			Opponent:  common.HexToAddress("0xbb"),
			Phase:     models.PhaseInProgress,
			TurnCount: 2,
		},
	}
}

func TestReaderCachesWithinTTL(t *testing.T) {
	source := newFakeSource()
	reader := NewReader(source, 200*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := reader.Room(ctx, "7"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&source.fetches); got != 1 {
		t.Errorf("expected 1 fetch within TTL, got %d", got)
	}

	// A different room is its own cache entry.
	if _, err := reader.Room(ctx, "8"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&source.fetches); got != 2 {
		t.Errorf("expected 2 fetches for two rooms, got %d", got)
	}

	// Past the TTL the next call round-trips again.
	time.Sleep(250 * time.Millisecond)
	if _, err := reader.Room(ctx, "7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&source.fetches); got != 3 {
		t.Errorf("expected fetch after TTL expiry, got %d total", got)
	}
}

func TestReaderSharesInFlightFetch(t *testing.T) {
	source := newFakeSource()
	source.delay = 100 * time.Millisecond
	reader := NewReader(source, time.Second, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reader.Room(ctx, "7"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&source.fetches); got != 1 {
		t.Errorf("expected a single shared fetch, got %d", got)
	}
}

func TestReaderFailureDoesNotPoisonCache(t *testing.T) {
	source := newFakeSource()
	source.setErr(&models.ChainReadError{Op: "getRoom", Err: errors.New("rpc down")})
	reader := NewReader(source, time.Second, zap.NewNop())
	ctx := context.Background()

	if _, err := reader.Room(ctx, "7"); err == nil {
		t.Fatal("expected error while source is failing")
	}

	// Recovery: the failure was not cached, the next call fetches again.
	source.setErr(nil)
	room, err := reader.Room(ctx, "7")
	if err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
	if room.RoomID != "7" {
		t.Errorf("expected room 7, got %s", room.RoomID)
	}
	if got := atomic.LoadInt32(&source.fetches); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
}

func TestReaderInvalidate(t *testing.T) {
	source := newFakeSource()
	reader := NewReader(source, time.Minute, zap.NewNop())
	ctx := context.Background()

	if _, err := reader.Room(ctx, "7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reader.Invalidate("7")
	if _, err := reader.Room(ctx, "7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := atomic.LoadInt32(&source.fetches); got != 2 {
		t.Errorf("expected refetch after invalidate, got %d fetches", got)
	}
}
