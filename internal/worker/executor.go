package worker

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultwars/internal/blockchain/evm"
	"vaultwars/internal/finalize"
	"vaultwars/internal/game"
	"vaultwars/internal/models"
	"vaultwars/internal/oracle"
	"vaultwars/internal/store"
)

const effectQueueSize = 64

// Executor drains reducer effects and performs their I/O: room refreshes,
// guess persistence, result decryption and background finalization. It is
// also the poller's event handler, so chain events flow poller -> reducer
// -> effect queue -> here.
type Executor struct {
	reader      *evm.Reader
	store       *store.Store
	oracle      *oracle.Client
	reducer     *game.Reducer
	coordinator *finalize.Coordinator
	player      common.Address
	logger      *zap.Logger

	effects chan game.Effect
}

// NewExecutor creates an effect executor.
func NewExecutor(
	reader *evm.Reader,
	s *store.Store,
	oracleClient *oracle.Client,
	reducer *game.Reducer,
	coordinator *finalize.Coordinator,
	player common.Address,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		reader:      reader,
		store:       s,
		oracle:      oracleClient,
		reducer:     reducer,
		coordinator: coordinator,
		player:      player,
		logger:      logger.Named("executor"),
		effects:     make(chan game.Effect, effectQueueSize),
	}
}

// HandleEvent implements poller.Handler: the event goes through the
// reducer and the resulting effects are queued for execution.
func (e *Executor) HandleEvent(ctx context.Context, ev models.DomainEvent) {
	e.submit(ctx, e.reducer.HandleEvent(ctx, ev))
}

// Run starts the executor loop
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("Executor started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor stopping")
			return
		case effect := <-e.effects:
			e.handleEffect(ctx, effect)
		}
	}
}

func (e *Executor) submit(ctx context.Context, effects []game.Effect) {
	for _, effect := range effects {
		select {
		case e.effects <- effect:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Executor) handleEffect(ctx context.Context, effect game.Effect) {
	switch ef := effect.(type) {
	case game.RefreshRoom:
		e.refreshRoom(ctx, ef.RoomID)
	case game.PersistGuess:
		if err := e.store.UpsertGuess(ctx, ef.RoomID, e.player, ef.Guess); err != nil {
			e.logger.Error("Failed to persist guess",
				zap.String("room_id", ef.RoomID),
				zap.Uint64("turn_index", ef.Guess.TurnIndex),
				zap.Error(err))
		}
	case game.DecodeResult:
		e.decodeResult(ctx, ef.Event)
	case game.TriggerFinalize:
		// Background path; failures are retried on the next winning
		// observation or via the manual claim endpoint.
		go e.coordinator.FinalizeSilent(ctx, ef.RoomID)
	case game.AnnounceOutcome:
		if ef.Outcome.Won {
			e.logger.Info("Game won",
				zap.String("room_id", ef.RoomID),
				zap.Uint64("turn_index", ef.Outcome.TurnIndex))
		} else {
			e.logger.Info("Game lost",
				zap.String("room_id", ef.RoomID),
				zap.Uint64("turn_index", ef.Outcome.TurnIndex))
		}
	default:
		e.logger.Warn("Unknown effect", zap.Any("effect", effect))
	}
}

func (e *Executor) refreshRoom(ctx context.Context, roomID string) {
	e.reader.Invalidate(roomID)
	room, err := e.reader.Room(ctx, roomID)
	if err != nil {
		e.logger.Error("Failed to refresh room",
			zap.String("room_id", roomID),
			zap.Error(err))
		return
	}
	e.reducer.RoomLoaded(room)
}

// decodeResult decrypts a ResultComputed event's handles in one oracle
// batch and feeds the cleartext back through the reducer.
func (e *Executor) decodeResult(ctx context.Context, ev models.ResultComputedEvent) {
	handles := []models.Handle{ev.BreachesHandle, ev.SignalsHandle, ev.WinHandle}
	handles = append(handles, ev.GuessHandles[:]...)

	dec, err := e.oracle.PublicDecrypt(ctx, handles)
	if err != nil {
		e.logger.Error("Failed to decrypt result",
			zap.String("room_id", ev.RoomID),
			zap.Uint64("turn_index", ev.TurnIndex),
			zap.Error(err))
		return
	}

	var digits models.Digits
	for i, h := range ev.GuessHandles {
		digits[i] = uint8(dec.Values[h])
	}
	result := models.GuessResult{
		Breached: int(dec.Values[ev.BreachesHandle]),
		Injured:  int(dec.Values[ev.SignalsHandle]),
	}
	isWin := dec.Values[ev.WinHandle] != 0

	effects := e.reducer.ApplyResult(ev.RoomID, ev.Submitter, ev.TurnIndex, digits, result, isWin)
	e.submit(ctx, effects)
}
