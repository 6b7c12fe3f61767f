package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vaultwars/internal/game"
	"vaultwars/internal/models"
	"vaultwars/internal/service"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	rooms  *service.RoomService
	player common.Address
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(rooms *service.RoomService, player common.Address, logger *zap.Logger) *Handler {
	return &Handler{
		rooms:  rooms,
		player: player,
		logger: logger,
		now:    time.Now,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	})
}

// ==================== Rooms ====================

// HandleGetRoom handles GET /api/v1/rooms/{roomId}
func (h *Handler) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	room, err := h.rooms.Room(r.Context(), roomID)
	if err != nil {
		h.respondServiceError(w, "Failed to load room", err)
		return
	}

	respondJSON(w, http.StatusOK, roomToResponse(room))
}

// HandleCreateRoom handles POST /api/v1/rooms
func (h *Handler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wager, ok := new(big.Int).SetString(req.WagerWei, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid wager_wei: must be a decimal integer", nil)
		return
	}

	roomID, err := h.rooms.CreateRoom(r.Context(), req.VaultDigits, wager)
	if err != nil {
		h.respondServiceError(w, "Failed to create room", err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: roomID})
}

// HandleJoinRoom handles POST /api/v1/rooms/{roomId}/join
func (h *Handler) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.rooms.JoinRoom(r.Context(), roomID, req.VaultDigits); err != nil {
		h.respondServiceError(w, "Failed to join room", err)
		return
	}

	respondJSON(w, http.StatusOK, RoomResponse{RoomID: roomID})
}

// HandleSubmitProbe handles POST /api/v1/rooms/{roomId}/probes
func (h *Handler) HandleSubmitProbe(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req SubmitProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	txHash, err := h.rooms.SubmitProbe(r.Context(), roomID, req.Digits)
	if err != nil {
		h.respondServiceError(w, "Failed to submit probe", err)
		return
	}

	respondJSON(w, http.StatusOK, TxResponse{TxHash: txHash})
}

// HandleCancelRoom handles POST /api/v1/rooms/{roomId}/cancel
func (h *Handler) HandleCancelRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	txHash, err := h.rooms.CancelRoom(r.Context(), roomID)
	if err != nil {
		h.respondServiceError(w, "Failed to cancel room", err)
		return
	}

	respondJSON(w, http.StatusOK, TxResponse{TxHash: txHash})
}

// HandleClaimTimeout handles POST /api/v1/rooms/{roomId}/timeout
func (h *Handler) HandleClaimTimeout(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	txHash, err := h.rooms.ClaimTimeout(r.Context(), roomID)
	if err != nil {
		h.respondServiceError(w, "Failed to claim timeout", err)
		return
	}

	respondJSON(w, http.StatusOK, TxResponse{TxHash: txHash})
}

// HandleFinalize handles POST /api/v1/rooms/{roomId}/finalize
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	if err := h.rooms.Finalize(r.Context(), roomID); err != nil {
		h.respondServiceError(w, "Failed to finalize room", err)
		return
	}

	respondJSON(w, http.StatusOK, RoomResponse{RoomID: roomID})
}

// ==================== Guesses and turn state ====================

// HandleGetGuesses handles GET /api/v1/rooms/{roomId}/guesses
func (h *Handler) HandleGetGuesses(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	guesses, err := h.rooms.Guesses(r.Context(), roomID)
	if err != nil {
		h.respondServiceError(w, "Failed to load guesses", err)
		return
	}

	views := make([]GuessView, 0, len(guesses))
	for _, g := range guesses {
		views = append(views, guessToView(g))
	}

	respondJSON(w, http.StatusOK, GuessesResponse{RoomID: roomID, Guesses: views})
}

// HandleGetTurn handles GET /api/v1/rooms/{roomId}/turn?address=0x...
// The address defaults to the configured player wallet.
func (h *Handler) HandleGetTurn(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	addr := h.player
	if raw := r.URL.Query().Get("address"); raw != "" {
		if !common.IsHexAddress(raw) {
			respondError(w, http.StatusBadRequest, "Invalid address", nil)
			return
		}
		addr = common.HexToAddress(raw)
	}

	room, err := h.rooms.Room(r.Context(), roomID)
	if err != nil {
		h.respondServiceError(w, "Failed to load room", err)
		return
	}

	state := game.State{RoomID: roomID, Room: room}
	respondJSON(w, http.StatusOK, TurnResponse{
		RoomID:    roomID,
		Address:   addr.Hex(),
		YourTurn:  room.IsPlayerTurn(addr),
		TurnOwner: room.TurnOwner().Hex(),
		Timeout:   string(state.Timeout(addr, h.now())),
	})
}

// ==================== Players ====================

// HandleGetPlayerWins handles GET /api/v1/players/{address}/wins
func (h *Handler) HandleGetPlayerWins(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "Invalid address", nil)
		return
	}
	addr := common.HexToAddress(raw)

	wins, err := h.rooms.PlayerWins(r.Context(), addr)
	if err != nil {
		h.respondServiceError(w, "Failed to load player wins", err)
		return
	}

	respondJSON(w, http.StatusOK, WinsResponse{Address: addr.Hex(), Wins: wins})
}

// ==================== Drafts ====================

// HandleGetDraft handles GET /api/v1/rooms/{roomId}/draft
func (h *Handler) HandleGetDraft(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	digits, err := h.rooms.Draft(r.Context(), roomID)
	if err != nil {
		h.respondServiceError(w, "Failed to load draft", err)
		return
	}

	respondJSON(w, http.StatusOK, DraftResponse{RoomID: roomID, Digits: digits})
}

// HandleSaveDraft handles PUT /api/v1/rooms/{roomId}/draft
func (h *Handler) HandleSaveDraft(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req SaveDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.rooms.SaveDraft(r.Context(), roomID, req.Digits); err != nil {
		h.respondServiceError(w, "Failed to save draft", err)
		return
	}

	respondJSON(w, http.StatusOK, DraftResponse{RoomID: roomID, Digits: req.Digits})
}

// ==================== Helper Functions ====================

func roomToResponse(room *models.Room) RoomResponse {
	resp := RoomResponse{
		RoomID:       room.RoomID,
		Creator:      room.Creator.Hex(),
		Wager:        room.Wager.String(),
		Phase:        string(room.Phase),
		TurnCount:    room.TurnCount,
		TurnOwner:    room.TurnOwner().Hex(),
		CreatedAt:    room.CreatedAt,
		LastActiveAt: room.LastActiveAt,
	}
	if room.HasOpponent() {
		resp.Opponent = room.Opponent.Hex()
	}
	return resp
}

func guessToView(g models.Guess) GuessView {
	view := GuessView{
		TurnIndex: int(g.TurnIndex),
		Digits:    g.Digits.String(),
		Submitter: g.Submitter.Hex(),
		Pending:   g.Pending,
		TxHash:    g.TxHash,
		Timestamp: g.Timestamp,
	}
	if g.Result != nil {
		breached, injured := g.Result.Breached, g.Result.Injured
		view.Breached = &breached
		view.Injured = &injured
	}
	return view
}

// respondServiceError maps domain errors to HTTP statuses: bad input is
// 400, unknown resources 404, upstream chain or oracle failures 502.
func (h *Handler) respondServiceError(w http.ResponseWriter, message string, err error) {
	var validationErr *models.ValidationError
	var chainReadErr *models.ChainReadError
	var chainWriteErr *models.ChainWriteError
	var oracleErr *models.OracleError

	switch {
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, models.ErrRoomNotFound),
		errors.Is(err, models.ErrProbeNotFound),
		errors.Is(err, models.ErrVaultNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, models.ErrCiphertextNotReady):
		respondError(w, http.StatusConflict, message, err)
	case errors.As(err, &chainReadErr), errors.As(err, &chainWriteErr), errors.As(err, &oracleErr):
		h.logger.Error(message, zap.Error(err))
		respondError(w, http.StatusBadGateway, message, err)
	default:
		h.logger.Error(message, zap.Error(err))
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	respondJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Message: errorMsg,
	})
}
