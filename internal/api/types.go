package api

import "time"

// HealthResponse reports service liveness
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// RoomResponse is the API view of an on-chain room
type RoomResponse struct {
	RoomID       string    `json:"room_id"`
	Creator      string    `json:"creator"`
	Opponent     string    `json:"opponent,omitempty"`
	Wager        string    `json:"wager_wei"`
	Phase        string    `json:"phase"`
	TurnCount    uint64    `json:"turn_count"`
	TurnOwner    string    `json:"turn_owner"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// GuessView is one entry of a room's guess history
type GuessView struct {
	TurnIndex int       `json:"turn_index"`
	Digits    string    `json:"digits"`
	Submitter string    `json:"submitter"`
	Pending   bool      `json:"pending"`
	Breached  *int      `json:"breached,omitempty"`
	Injured   *int      `json:"injured,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GuessesResponse lists the player's guesses for a room in turn order
type GuessesResponse struct {
	RoomID  string      `json:"room_id"`
	Guesses []GuessView `json:"guesses"`
}

// TurnResponse reports turn ownership and the timeout window state
type TurnResponse struct {
	RoomID    string `json:"room_id"`
	Address   string `json:"address"`
	YourTurn  bool   `json:"your_turn"`
	TurnOwner string `json:"turn_owner"`
	Timeout   string `json:"timeout"` // NONE, WARNING or CLAIMABLE
}

// CreateRoomRequest opens a new room
type CreateRoomRequest struct {
	VaultDigits string `json:"vault_digits"`
	WagerWei    string `json:"wager_wei"`
}

// CreateRoomResponse returns the new room's id
type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

// JoinRoomRequest joins an open room
type JoinRoomRequest struct {
	VaultDigits string `json:"vault_digits"`
}

// SubmitProbeRequest submits a guess at the opponent's vault
type SubmitProbeRequest struct {
	Digits string `json:"digits"`
}

// TxResponse returns the hash of a submitted transaction
type TxResponse struct {
	TxHash string `json:"tx_hash"`
}

// WinsResponse reports a player's on-chain win counter
type WinsResponse struct {
	Address string `json:"address"`
	Wins    uint64 `json:"wins"`
}

// DraftResponse returns the saved draft input for a room
type DraftResponse struct {
	RoomID string `json:"room_id"`
	Digits string `json:"digits"`
}

// SaveDraftRequest stores in-progress input digits
type SaveDraftRequest struct {
	Digits string `json:"digits"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
