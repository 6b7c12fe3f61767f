package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vaultwars/internal/models"
)

// guessRow is the persisted shape of a guess. Everything is namespaced by
// (room_id, player) so two rooms, or two local players in test setups,
// never see each other's rows.
type guessRow struct {
	RoomID     string         `db:"room_id"`
	Player     string         `db:"player"`
	TurnIndex  int64          `db:"turn_index"`
	Digits     string         `db:"digits"`
	Submitter  string         `db:"submitter"`
	Pending    bool           `db:"pending"`
	Breached   sql.NullInt64  `db:"breached"`
	Injured    sql.NullInt64  `db:"injured"`
	TxHash     sql.NullString `db:"tx_hash"`
	OccurredAt time.Time      `db:"occurred_at"`
}

func rowFromGuess(roomID string, player common.Address, g models.Guess) guessRow {
	// The zero value means "digits not yet known" (a probe observed via
	// event before its cleartext arrived); stored as the empty string so
	// reload does not mistake it for a real code.
	var digits string
	if g.Digits != (models.Digits{}) {
		digits = g.Digits.String()
	}
	row := guessRow{
		RoomID:     roomID,
		Player:     player.Hex(),
		TurnIndex:  int64(g.TurnIndex),
		Digits:     digits,
		Submitter:  g.Submitter.Hex(),
		Pending:    g.Pending,
		TxHash:     toNullString(g.TxHash),
		OccurredAt: g.Timestamp,
	}
	if g.Result != nil {
		row.Breached = sql.NullInt64{Int64: int64(g.Result.Breached), Valid: true}
		row.Injured = sql.NullInt64{Int64: int64(g.Result.Injured), Valid: true}
	}
	return row
}

func (r guessRow) toGuess() (models.Guess, error) {
	var digits models.Digits
	if r.Digits != "" {
		var err error
		digits, err = models.ParseDigits(r.Digits)
		if err != nil {
			return models.Guess{}, fmt.Errorf("corrupt digits for room %s turn %d: %w", r.RoomID, r.TurnIndex, err)
		}
	}
	g := models.Guess{
		TurnIndex: uint64(r.TurnIndex),
		Digits:    digits,
		Submitter: common.HexToAddress(r.Submitter),
		Timestamp: r.OccurredAt,
		Pending:   r.Pending,
		TxHash:    r.TxHash.String,
	}
	if r.Breached.Valid && r.Injured.Valid {
		g.Result = &models.GuessResult{
			Breached: int(r.Breached.Int64),
			Injured:  int(r.Injured.Int64),
		}
	}
	return g, nil
}

// UpsertGuess inserts or updates the guess at its turn index. A row that
// already carries a result keeps it; a resolved row is never flipped back
// to pending.
func (s *Store) UpsertGuess(ctx context.Context, roomID string, player common.Address, g models.Guess) error {
	row := rowFromGuess(roomID, player, g)
	query := `
		INSERT INTO guesses (
			room_id, player, turn_index, digits, submitter,
			pending, breached, injured, tx_hash, occurred_at
		)
		VALUES (
			:room_id, :player, :turn_index, :digits, :submitter,
			:pending, :breached, :injured, :tx_hash, :occurred_at
		)
		ON CONFLICT (room_id, player, turn_index) DO UPDATE SET
			digits     = EXCLUDED.digits,
			submitter  = EXCLUDED.submitter,
			pending    = guesses.pending AND EXCLUDED.pending,
			breached   = COALESCE(EXCLUDED.breached, guesses.breached),
			injured    = COALESCE(EXCLUDED.injured, guesses.injured),
			tx_hash    = COALESCE(EXCLUDED.tx_hash, guesses.tx_hash),
			occurred_at = EXCLUDED.occurred_at
	`
	_, err := s.NamedExecContext(ctx, query, row)
	return err
}

// GetGuesses returns the room's guesses for a player ordered by turn index.
func (s *Store) GetGuesses(ctx context.Context, roomID string, player common.Address) ([]models.Guess, error) {
	var rows []guessRow
	query := `
		SELECT room_id, player, turn_index, digits, submitter,
		       pending, breached, injured, tx_hash, occurred_at
		FROM guesses
		WHERE room_id = $1 AND player = $2
		ORDER BY turn_index ASC
	`
	if err := s.SelectContext(ctx, &rows, query, roomID, player.Hex()); err != nil {
		return nil, err
	}
	guesses := make([]models.Guess, 0, len(rows))
	for _, r := range rows {
		g, err := r.toGuess()
		if err != nil {
			return nil, err
		}
		guesses = append(guesses, g)
	}
	return guesses, nil
}

// SaveDraft stores the in-progress input digits for a room.
func (s *Store) SaveDraft(ctx context.Context, roomID string, player common.Address, digits string) error {
	query := `
		INSERT INTO drafts (room_id, player, digits, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (room_id, player) DO UPDATE SET
			digits = EXCLUDED.digits,
			updated_at = NOW()
	`
	_, err := s.ExecContext(ctx, query, roomID, player.Hex(), digits)
	return err
}

// GetDraft returns the saved draft digits, or "" when none exist.
func (s *Store) GetDraft(ctx context.Context, roomID string, player common.Address) (string, error) {
	var digits string
	query := `SELECT digits FROM drafts WHERE room_id = $1 AND player = $2`
	err := s.GetContext(ctx, &digits, query, roomID, player.Hex())
	if err == sql.ErrNoRows {
		return "", nil
	}
	return digits, err
}

// ClearDraft removes the draft once it has been submitted.
func (s *Store) ClearDraft(ctx context.Context, roomID string, player common.Address) error {
	query := `DELETE FROM drafts WHERE room_id = $1 AND player = $2`
	_, err := s.ExecContext(ctx, query, roomID, player.Hex())
	return err
}

// SaveVault stores the player's own secret digits for a room so the UI can
// display them after a reload. They never leave this process in cleartext.
func (s *Store) SaveVault(ctx context.Context, roomID string, player common.Address, digits models.Digits) error {
	query := `
		INSERT INTO vaults (room_id, player, digits, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (room_id, player) DO UPDATE SET
			digits = EXCLUDED.digits
	`
	_, err := s.ExecContext(ctx, query, roomID, player.Hex(), digits.String())
	return err
}

// GetVault returns the player's stored vault digits for a room.
func (s *Store) GetVault(ctx context.Context, roomID string, player common.Address) (models.Digits, error) {
	var raw string
	query := `SELECT digits FROM vaults WHERE room_id = $1 AND player = $2`
	err := s.GetContext(ctx, &raw, query, roomID, player.Hex())
	if err == sql.ErrNoRows {
		return models.Digits{}, models.ErrVaultNotFound
	}
	if err != nil {
		return models.Digits{}, err
	}
	return models.ParseDigits(raw)
}

func toNullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
