package finalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vaultwars/internal/models"
	"vaultwars/internal/oracle"
)

// RoomReader is the cached room accessor the coordinator resolves the
// encrypted winner handle through.
type RoomReader interface {
	Room(ctx context.Context, roomID string) (*models.Room, error)
	Invalidate(roomID string)
}

// Decrypter resolves ciphertext handles to cleartext with a proof.
type Decrypter interface {
	PublicDecrypt(ctx context.Context, handles []models.Handle) (*oracle.DecryptionResult, error)
}

// Submitter sends the finalize transaction on-chain.
type Submitter interface {
	FulfillDecryption(ctx context.Context, roomID string, cleartext, decryptionProof []byte) (common.Hash, error)
}

// Coordinator performs the one-time decrypt-and-submit flow that reveals
// the winner on-chain and releases the wager. Per room the state machine
// is Idle -> Finalizing -> Done; a trigger while another attempt is in
// flight short-circuits as a no-op, so two concurrent finalize
// transactions for the same room are impossible from this process.
type Coordinator struct {
	reader    RoomReader
	decrypter Decrypter
	submitter Submitter
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	done     map[string]struct{}
}

// NewCoordinator wires the finalization dependencies.
func NewCoordinator(reader RoomReader, decrypter Decrypter, submitter Submitter, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		reader:    reader,
		decrypter: decrypter,
		submitter: submitter,
		logger:    logger.Named("finalize"),
		inFlight:  make(map[string]struct{}),
		done:      make(map[string]struct{}),
	}
}

// FinalizeSilent is the background invocation triggered by observing a
// winning result: errors are logged, never surfaced.
func (c *Coordinator) FinalizeSilent(ctx context.Context, roomID string) {
	if err := c.finalize(ctx, roomID); err != nil {
		c.logger.Warn("Background finalization failed, will rely on retry or manual claim",
			zap.String("room_id", roomID),
			zap.Error(err))
	}
}

// Finalize is the interactive invocation (user-triggered claim): errors
// surface to the caller. Shares the same in-flight guard as the silent
// path.
func (c *Coordinator) Finalize(ctx context.Context, roomID string) error {
	return c.finalize(ctx, roomID)
}

func (c *Coordinator) finalize(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if _, ok := c.done[roomID]; ok {
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.inFlight[roomID]; ok {
		c.mu.Unlock()
		c.logger.Debug("Finalization already in progress", zap.String("room_id", roomID))
		return nil
	}
	c.inFlight[roomID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, roomID)
		c.mu.Unlock()
	}()

	attemptID := uuid.NewString()
	logger := c.logger.With(
		zap.String("room_id", roomID),
		zap.String("attempt_id", attemptID))

	// Resolve the winner handle, falling back to a fresh read when the
	// cached room still carries the unset sentinel.
	room, err := c.reader.Room(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room: %w", err)
	}
	if room.EncryptedWinner.IsZero() {
		c.reader.Invalidate(roomID)
		room, err = c.reader.Room(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to reload room: %w", err)
		}
	}
	if room.EncryptedWinner.IsZero() {
		return models.ErrCiphertextNotReady
	}
	if room.Phase == models.PhaseCompleted {
		c.markDone(roomID)
		return nil
	}

	logger.Info("Finalizing room", zap.String("winner_handle", room.EncryptedWinner.Hex()))

	dec, err := c.decrypter.PublicDecrypt(ctx, []models.Handle{room.EncryptedWinner})
	if err != nil {
		// Never treat a failed decryption as "not a win".
		return fmt.Errorf("failed to decrypt winner: %w", err)
	}

	cleartext := encodeWinnerCleartext(dec.Values[room.EncryptedWinner])

	txHash, err := c.submitter.FulfillDecryption(ctx, roomID, cleartext, dec.Proof)
	if err != nil {
		if IsAlreadyFinalized(err) {
			// Another client (or an earlier retry) won the race; that
			// is a normal completion, not a failure.
			logger.Info("Room was already finalized elsewhere")
			c.markDone(roomID)
			c.reader.Invalidate(roomID)
			return nil
		}
		return fmt.Errorf("finalize transaction failed: %w", err)
	}

	c.markDone(roomID)
	c.reader.Invalidate(roomID)

	logger.Info("Room finalized", zap.String("tx_hash", txHash.Hex()))
	return nil
}

func (c *Coordinator) markDone(roomID string) {
	c.mu.Lock()
	c.done[roomID] = struct{}{}
	c.mu.Unlock()
}

// encodeWinnerCleartext packs the decrypted winner value as the 32-byte
// big-endian word the contract verifies against the proof.
func encodeWinnerCleartext(value uint64) []byte {
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		out[31-i] = byte(value >> (8 * i))
	}
	return out
}

// IsAlreadyFinalized recognizes the contract's "already finalized" revert
// in whatever wrapping the RPC stack delivered it.
func IsAlreadyFinalized(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrAlreadyFinalized) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already finalized") ||
		strings.Contains(msg, "game finished") ||
		strings.Contains(msg, "game already complete")
}
