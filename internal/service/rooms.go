package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultwars/internal/blockchain/evm"
	"vaultwars/internal/finalize"
	"vaultwars/internal/game"
	"vaultwars/internal/models"
	"vaultwars/internal/oracle"
)

// ChainReader is the cached chain read surface the service consumes.
// evm.Reader implements it.
type ChainReader interface {
	Room(ctx context.Context, roomID string) (*models.Room, error)
	Invalidate(roomID string)
	PlayerWins(ctx context.Context, player common.Address) (uint64, error)
}

// Store is the persistence surface the service consumes. store.Store
// implements it.
type Store interface {
	UpsertGuess(ctx context.Context, roomID string, player common.Address, g models.Guess) error
	GetGuesses(ctx context.Context, roomID string, player common.Address) ([]models.Guess, error)
	SaveDraft(ctx context.Context, roomID string, player common.Address, digits string) error
	GetDraft(ctx context.Context, roomID string, player common.Address) (string, error)
	ClearDraft(ctx context.Context, roomID string, player common.Address) error
	SaveVault(ctx context.Context, roomID string, player common.Address, digits models.Digits) error
}

// RoomService drives the player-facing room lifecycle: creating and
// joining rooms, submitting probes, cancelling, claiming timeouts and
// triggering finalization. Digits are validated before any encryption or
// network call so bad input never costs an oracle round trip.
type RoomService struct {
	reader      ChainReader
	contract    *evm.Contract
	oracle      *oracle.Client
	store       Store
	reducer     *game.Reducer
	coordinator *finalize.Coordinator
	player      common.Address
	logger      *zap.Logger
}

// NewRoomService creates a room service for the configured player wallet.
func NewRoomService(
	reader ChainReader,
	contract *evm.Contract,
	oracleClient *oracle.Client,
	s Store,
	reducer *game.Reducer,
	coordinator *finalize.Coordinator,
	player common.Address,
	logger *zap.Logger,
) *RoomService {
	return &RoomService{
		reader:      reader,
		contract:    contract,
		oracle:      oracleClient,
		store:       s,
		reducer:     reducer,
		coordinator: coordinator,
		player:      player,
		logger:      logger.Named("rooms"),
	}
}

// CreateRoom encrypts the player's vault digits, opens a new room with
// the given wager and attaches the reducer to it.
func (s *RoomService) CreateRoom(ctx context.Context, vaultDigits string, wager *big.Int) (string, error) {
	digits, err := models.ParseDigits(vaultDigits)
	if err != nil {
		return "", err
	}
	if wager == nil || wager.Sign() <= 0 {
		return "", &models.ValidationError{Field: "wager", Reason: "must be positive"}
	}

	input, err := s.oracle.Encrypt(ctx, s.contract.Address(), digits)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt vault: %w", err)
	}

	roomID, txHash, err := s.contract.CreateRoom(ctx, input.Handles, input.Proof, wager)
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}

	if err := s.store.SaveVault(ctx, roomID, s.player, digits); err != nil {
		// The room exists on-chain regardless; losing the local copy of
		// the vault only degrades the UI.
		s.logger.Warn("Failed to persist vault digits",
			zap.String("room_id", roomID),
			zap.Error(err))
	}

	s.attach(ctx, roomID)

	s.logger.Info("Room created",
		zap.String("room_id", roomID),
		zap.String("tx_hash", txHash.Hex()),
		zap.String("wager", wager.String()))
	return roomID, nil
}

// JoinRoom encrypts the player's vault digits and joins an open room,
// matching its wager.
func (s *RoomService) JoinRoom(ctx context.Context, roomID, vaultDigits string) error {
	digits, err := models.ParseDigits(vaultDigits)
	if err != nil {
		return err
	}

	room, err := s.reader.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Phase != models.PhaseWaitingForJoin {
		return &models.ValidationError{Field: "roomId", Reason: fmt.Sprintf("room is %s, not open for joining", room.Phase)}
	}
	if room.Creator == s.player {
		return &models.ValidationError{Field: "roomId", Reason: "cannot join your own room"}
	}

	input, err := s.oracle.Encrypt(ctx, s.contract.Address(), digits)
	if err != nil {
		return fmt.Errorf("failed to encrypt vault: %w", err)
	}

	txHash, err := s.contract.JoinRoom(ctx, roomID, input.Handles, input.Proof, room.Wager)
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	if err := s.store.SaveVault(ctx, roomID, s.player, digits); err != nil {
		s.logger.Warn("Failed to persist vault digits",
			zap.String("room_id", roomID),
			zap.Error(err))
	}

	s.reader.Invalidate(roomID)
	s.attach(ctx, roomID)

	s.logger.Info("Joined room",
		zap.String("room_id", roomID),
		zap.String("tx_hash", txHash.Hex()))
	return nil
}

// SubmitProbe validates and encrypts a guess, submits it on-chain and
// records it as a pending guess so the UI reflects it before the result
// event lands. The draft is saved first and cleared only on success, so a
// failed submission leaves the typed digits recoverable.
func (s *RoomService) SubmitProbe(ctx context.Context, roomID, guessDigits string) (string, error) {
	digits, err := models.ParseDigits(guessDigits)
	if err != nil {
		return "", err
	}

	if err := s.store.SaveDraft(ctx, roomID, s.player, guessDigits); err != nil {
		s.logger.Warn("Failed to save draft", zap.String("room_id", roomID), zap.Error(err))
	}

	room, err := s.reader.Room(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room.Phase != models.PhaseInProgress {
		return "", &models.ValidationError{Field: "roomId", Reason: fmt.Sprintf("room is %s, not in progress", room.Phase)}
	}
	if !room.IsPlayerTurn(s.player) {
		return "", &models.ValidationError{Field: "turn", Reason: "not your turn"}
	}

	input, err := s.oracle.Encrypt(ctx, s.contract.Address(), digits)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt guess: %w", err)
	}

	txHash, err := s.contract.SubmitProbe(ctx, roomID, input.Handles, input.Proof)
	if err != nil {
		return "", fmt.Errorf("failed to submit probe: %w", err)
	}

	effects := s.reducer.ProbeSubmittedLocally(room.TurnCount, digits, s.player, txHash.Hex())
	s.persistEffects(ctx, roomID, effects)

	if err := s.store.ClearDraft(ctx, roomID, s.player); err != nil {
		s.logger.Warn("Failed to clear draft", zap.String("room_id", roomID), zap.Error(err))
	}
	s.reader.Invalidate(roomID)

	s.logger.Info("Probe submitted",
		zap.String("room_id", roomID),
		zap.Uint64("turn_index", room.TurnCount),
		zap.String("tx_hash", txHash.Hex()))
	return txHash.Hex(), nil
}

// CancelRoom withdraws an open room the player created before anyone
// joined, refunding the wager.
func (s *RoomService) CancelRoom(ctx context.Context, roomID string) (string, error) {
	room, err := s.reader.Room(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room.Creator != s.player {
		return "", &models.ValidationError{Field: "roomId", Reason: "only the creator can cancel"}
	}
	if room.Phase != models.PhaseWaitingForJoin {
		return "", &models.ValidationError{Field: "roomId", Reason: fmt.Sprintf("room is %s, cancel requires an open room", room.Phase)}
	}

	txHash, err := s.contract.CancelRoom(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("failed to cancel room: %w", err)
	}
	s.reader.Invalidate(roomID)

	s.logger.Info("Room cancelled", zap.String("room_id", roomID), zap.String("tx_hash", txHash.Hex()))
	return txHash.Hex(), nil
}

// ClaimTimeout claims the win after the opponent has been inactive past
// the timeout window.
func (s *RoomService) ClaimTimeout(ctx context.Context, roomID string) (string, error) {
	snap := s.reducer.Snapshot()
	if snap.RoomID == roomID && snap.Room != nil {
		if state := snap.Timeout(s.player, time.Now()); state != game.TimeoutClaimable {
			return "", &models.ValidationError{Field: "roomId", Reason: "timeout window has not elapsed"}
		}
	}

	txHash, err := s.contract.ClaimTimeout(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("failed to claim timeout: %w", err)
	}
	s.reader.Invalidate(roomID)

	s.logger.Info("Timeout claimed", zap.String("room_id", roomID), zap.String("tx_hash", txHash.Hex()))
	return txHash.Hex(), nil
}

// Finalize triggers the interactive finalization path; errors surface to
// the caller.
func (s *RoomService) Finalize(ctx context.Context, roomID string) error {
	return s.coordinator.Finalize(ctx, roomID)
}

// Room returns the cached chain view of a room.
func (s *RoomService) Room(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.reader.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.ensureAttached(ctx, roomID)
	return room, nil
}

// Guesses returns the player's persisted guess history for a room.
func (s *RoomService) Guesses(ctx context.Context, roomID string) ([]models.Guess, error) {
	s.ensureAttached(ctx, roomID)
	return s.store.GetGuesses(ctx, roomID, s.player)
}

// IsPlayerTurn reports whether the address owns the current turn.
func (s *RoomService) IsPlayerTurn(ctx context.Context, roomID string, player common.Address) (bool, error) {
	room, err := s.reader.Room(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.IsPlayerTurn(player), nil
}

// PlayerWins returns the on-chain win counter for an address.
func (s *RoomService) PlayerWins(ctx context.Context, player common.Address) (uint64, error) {
	return s.reader.PlayerWins(ctx, player)
}

// Draft returns the saved draft digits for a room, or "" when none exist.
func (s *RoomService) Draft(ctx context.Context, roomID string) (string, error) {
	return s.store.GetDraft(ctx, roomID, s.player)
}

// SaveDraft stores in-progress input digits. Partial input is allowed;
// only full submissions are validated.
func (s *RoomService) SaveDraft(ctx context.Context, roomID, digits string) error {
	if len(digits) > models.DigitCount {
		return &models.ValidationError{Field: "digits", Reason: fmt.Sprintf("at most %d digits", models.DigitCount)}
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return &models.ValidationError{Field: "digits", Reason: "digits only"}
		}
	}
	return s.store.SaveDraft(ctx, roomID, s.player, digits)
}

// ensureAttached attaches the reducer when it is not tracking a room
// yet. After a process restart the game lives on-chain and in the store
// while the reducer starts empty; the first read of the room resumes
// event processing for it. A reducer already tracking a room keeps it,
// so reads of other rooms never discard live state.
func (s *RoomService) ensureAttached(ctx context.Context, roomID string) {
	if s.reducer.AttachedRoom() != "" {
		return
	}
	s.attach(ctx, roomID)
}

// attach points the reducer at a room, restoring any persisted guesses.
func (s *RoomService) attach(ctx context.Context, roomID string) {
	restored, err := s.store.GetGuesses(ctx, roomID, s.player)
	if err != nil {
		s.logger.Warn("Failed to restore guesses",
			zap.String("room_id", roomID),
			zap.Error(err))
		restored = nil
	}
	s.reducer.AttachRoom(roomID, restored)
}

// persistEffects applies the store-facing subset of reducer effects
// emitted on the synchronous submission path.
func (s *RoomService) persistEffects(ctx context.Context, roomID string, effects []game.Effect) {
	for _, effect := range effects {
		if p, ok := effect.(game.PersistGuess); ok {
			if err := s.store.UpsertGuess(ctx, roomID, s.player, p.Guess); err != nil {
				s.logger.Warn("Failed to persist guess",
					zap.String("room_id", roomID),
					zap.Uint64("turn_index", p.Guess.TurnIndex),
					zap.Error(err))
			}
		}
	}
}
