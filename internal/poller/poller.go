package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"vaultwars/internal/models"
)

// Defaults for poller configuration.
const (
	DefaultInterval  = 3 * time.Second
	DefaultLookback  = 10
	DefaultRepeatCap = 3
)

// LogSource provides the raw chain log access the poller scans. The
// contract binding implements it; tests inject fakes.
type LogSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	ParseLog(lg types.Log) (models.DomainEvent, error)
}

// Handler consumes typed domain events in ascending (block, logIndex)
// order. Each physical event identity is delivered at most once per
// poller lifetime.
type Handler interface {
	HandleEvent(ctx context.Context, ev models.DomainEvent)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev models.DomainEvent)

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev models.DomainEvent) {
	f(ctx, ev)
}

type repeatKey struct {
	roomID string
	kind   models.EventKind
	turn   uint64
}

// repeatKeyFor identifies the logical event behind a log. Turn-carrying
// kinds are scoped to their turn index so every turn of a long game is a
// fresh logical event; the cap can only ever count re-emissions of the
// same logical event under distinct physical identities.
func repeatKeyFor(ev models.DomainEvent) repeatKey {
	key := repeatKey{roomID: ev.Meta().RoomID, kind: ev.Kind()}
	switch e := ev.(type) {
	case models.ProbeSubmittedEvent:
		key.turn = e.TurnIndex
	case models.ResultComputedEvent:
		key.turn = e.TurnIndex
	}
	return key
}

// Poller converts the contract's append-only log into a deduplicated,
// ordered stream of domain events. Identity dedup by (txHash, logIndex)
// is the correctness mechanism; the per-logical-event repeat cap is a
// defensive valve against endpoints that re-serve the same logical event
// under fresh physical identities.
type Poller struct {
	source    LogSource
	handler   Handler
	interval  time.Duration
	lookback  uint64
	repeatCap int
	logger    *zap.Logger

	mu            sync.Mutex
	seen          map[models.EventKey]struct{}
	repeats       map[repeatKey]int
	lastProcessed uint64
	hasCheckpoint bool
	cycleRunning  bool
}

// Option tweaks poller construction.
type Option func(*Poller)

// WithInterval overrides the tick interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithLookback overrides how many blocks behind head the first scan starts.
func WithLookback(blocks uint64) Option {
	return func(p *Poller) { p.lookback = blocks }
}

// WithRepeatCap overrides the per-logical-event dispatch cap. Zero
// disables the cap entirely.
func WithRepeatCap(n int) Option {
	return func(p *Poller) { p.repeatCap = n }
}

// New creates a poller over the given source, dispatching to handler.
func New(source LogSource, handler Handler, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		source:    source,
		handler:   handler,
		interval:  DefaultInterval,
		lookback:  DefaultLookback,
		repeatCap: DefaultRepeatCap,
		logger:    logger.Named("poller"),
		seen:      make(map[models.EventKey]struct{}),
		repeats:   make(map[repeatKey]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls on a fixed interval until the context is cancelled. Stopping
// clears the timer but keeps the processed-event ledger, so a restart
// within the same process does not redeliver.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poller started",
		zap.Duration("interval", p.interval),
		zap.Uint64("lookback_blocks", p.lookback))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial poll
	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopping")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce executes a single poll cycle. Exactly one cycle may be in
// flight at a time; a call while another cycle runs is skipped, never
// queued. Exposed so tests can drive ticks deterministically.
func (p *Poller) PollOnce(ctx context.Context) {
	p.mu.Lock()
	if p.cycleRunning {
		p.mu.Unlock()
		p.logger.Debug("Previous poll cycle still running, skipping tick")
		return
	}
	p.cycleRunning = true
	fromCheckpoint := p.lastProcessed
	hasCheckpoint := p.hasCheckpoint
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.cycleRunning = false
		p.mu.Unlock()
	}()

	latest, err := p.source.LatestBlock(ctx)
	if err != nil {
		// Checkpoint untouched, the range is rescanned next tick.
		p.logger.Warn("Failed to get latest block", zap.Error(err))
		return
	}

	var fromBlock uint64
	if hasCheckpoint {
		fromBlock = fromCheckpoint + 1
	} else if latest > p.lookback {
		fromBlock = latest - p.lookback
	}

	if fromBlock > latest {
		return
	}

	logs, err := p.source.FilterLogs(ctx, fromBlock, latest)
	if err != nil {
		p.logger.Warn("Failed to query logs, will retry",
			zap.Uint64("from_block", fromBlock),
			zap.Uint64("to_block", latest),
			zap.Error(err))
		return
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	dispatched := 0
	for i := range logs {
		if !p.stillActive(ctx) {
			// Stopped mid-cycle: discard the remainder, keep the
			// checkpoint where it was.
			return
		}
		if p.processLog(ctx, logs[i]) {
			dispatched++
		}
	}

	p.mu.Lock()
	p.lastProcessed = latest
	p.hasCheckpoint = true
	p.mu.Unlock()

	if dispatched > 0 {
		p.logger.Debug("Poll cycle complete",
			zap.Uint64("from_block", fromBlock),
			zap.Uint64("to_block", latest),
			zap.Int("dispatched", dispatched))
	}
}

// processLog decodes and dispatches one raw log, honoring the ledger and
// the repeat cap. Returns true if the event reached the handler.
func (p *Poller) processLog(ctx context.Context, lg types.Log) bool {
	key := models.EventKey{TxHash: lg.TxHash, LogIndex: lg.Index}

	p.mu.Lock()
	if _, dup := p.seen[key]; dup {
		p.mu.Unlock()
		return false
	}
	p.seen[key] = struct{}{}
	p.mu.Unlock()

	ev, err := p.source.ParseLog(lg)
	if err != nil {
		p.logger.Debug("Skipping undecodable log",
			zap.String("tx_hash", lg.TxHash.Hex()),
			zap.Uint("log_index", lg.Index),
			zap.Error(err))
		return false
	}

	meta := ev.Meta()

	if p.repeatCap > 0 {
		rk := repeatKeyFor(ev)
		p.mu.Lock()
		p.repeats[rk]++
		count := p.repeats[rk]
		p.mu.Unlock()
		if count > p.repeatCap {
			p.logger.Warn("Repeat cap exceeded, dropping event",
				zap.String("room_id", meta.RoomID),
				zap.String("kind", string(ev.Kind())),
				zap.Uint64("turn_index", rk.turn),
				zap.Int("count", count))
			return false
		}
	}

	p.handler.HandleEvent(ctx, ev)
	return true
}

// stillActive reports whether dispatching may continue. Cancelling the
// poller does not interrupt an in-flight query; its results are discarded
// here instead of being dispatched.
func (p *Poller) stillActive(ctx context.Context) bool {
	return ctx.Err() == nil
}
