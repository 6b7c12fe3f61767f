package evm

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"vaultwars/internal/models"
)

// RoomTTL is how long a fetched room stays fresh before the next call
// round-trips to the chain again.
const RoomTTL = 3 * time.Second

const readerCacheSize = 128

// RoomSource is the subset of the contract binding the Reader caches over.
type RoomSource interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	GetProbe(ctx context.Context, roomID string, turnIndex uint64) (*ProbeRecord, error)
	GetLastResultEncrypted(ctx context.Context, roomID string) (models.Handle, models.Handle, error)
	RoomExists(ctx context.Context, roomID string) (bool, error)
	IsPlayerTurn(ctx context.Context, roomID string, player common.Address) (bool, error)
	GetPlayerWins(ctx context.Context, player common.Address) (uint64, error)
}

// Reader is the cached read accessor over the game contract. Repeated
// reads for the same room within RoomTTL are served from cache, and
// concurrent reads for the same room share a single in-flight fetch.
// Fetch failures are surfaced to callers and never cached.
type Reader struct {
	source RoomSource
	cache  *expirable.LRU[string, *models.Room]
	flight singleflight.Group
	logger *zap.Logger
}

// NewReader wraps a contract binding with the per-room cache.
func NewReader(source RoomSource, ttl time.Duration, logger *zap.Logger) *Reader {
	return &Reader{
		source: source,
		cache:  expirable.NewLRU[string, *models.Room](readerCacheSize, nil, ttl),
		logger: logger,
	}
}

// Room returns the room record, served from cache within the TTL. A call
// while a fetch is already in flight for the same room joins that fetch
// instead of issuing a second RPC.
func (r *Reader) Room(ctx context.Context, roomID string) (*models.Room, error) {
	if room, ok := r.cache.Get(roomID); ok {
		return room, nil
	}

	v, err, shared := r.flight.Do(roomID, func() (interface{}, error) {
		room, err := r.source.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		r.cache.Add(roomID, room)
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("Room fetch shared with in-flight request",
			zap.String("room_id", roomID))
	}
	return v.(*models.Room), nil
}

// Invalidate drops the cached entry so the next read hits the chain.
func (r *Reader) Invalidate(roomID string) {
	r.cache.Remove(roomID)
}

// Probe fetches one probe slot. Probes are immutable once posted, so no
// caching is needed beyond the room entry.
func (r *Reader) Probe(ctx context.Context, roomID string, turnIndex uint64) (*ProbeRecord, error) {
	return r.source.GetProbe(ctx, roomID, turnIndex)
}

// LastResultEncrypted fetches the latest encrypted feedback handles.
func (r *Reader) LastResultEncrypted(ctx context.Context, roomID string) (models.Handle, models.Handle, error) {
	return r.source.GetLastResultEncrypted(ctx, roomID)
}

// RoomExists asks the contract whether the room id is known.
func (r *Reader) RoomExists(ctx context.Context, roomID string) (bool, error) {
	return r.source.RoomExists(ctx, roomID)
}

// IsPlayerTurn asks the contract who owns the current turn.
func (r *Reader) IsPlayerTurn(ctx context.Context, roomID string, player common.Address) (bool, error) {
	return r.source.IsPlayerTurn(ctx, roomID, player)
}

// PlayerWins returns the lifetime win count for an address.
func (r *Reader) PlayerWins(ctx context.Context, player common.Address) (uint64, error) {
	return r.source.GetPlayerWins(ctx, player)
}
