package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vaultwars/internal/models"
)

var testPlayer = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestHandleHealth(t *testing.T) {
	handler := NewHandler(nil, testPlayer, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
}

func TestHandleCreateRoom_Validation(t *testing.T) {
	handler := NewHandler(nil, testPlayer, zap.NewNop())

	tests := []struct {
		name           string
		body           []byte
		expectedStatus int
	}{
		{
			name:           "invalid json",
			body:           []byte("invalid json"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "wager not a number",
			body:           mustJSON(t, CreateRoomRequest{VaultDigits: "1234", WagerWei: "a lot"}),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "empty wager",
			body:           mustJSON(t, CreateRoomRequest{VaultDigits: "1234", WagerWei: ""}),
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			handler.HandleCreateRoom(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			var errResp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp.Error == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestHandleGetPlayerWins_InvalidAddress(t *testing.T) {
	handler := NewHandler(nil, testPlayer, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/players/nonsense/wins", nil)
	req = mux.SetURLVars(req, map[string]string{"address": "nonsense"})
	w := httptest.NewRecorder()

	handler.HandleGetPlayerWins(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestRespondServiceErrorMapping(t *testing.T) {
	handler := NewHandler(nil, testPlayer, zap.NewNop())

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{
			name:           "validation error",
			err:            &models.ValidationError{Field: "digits", Reason: "duplicate digit"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "room not found",
			err:            models.ErrRoomNotFound,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "ciphertext not ready",
			err:            models.ErrCiphertextNotReady,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "chain read failure",
			err:            &models.ChainReadError{Op: "getRoom", Err: errors.New("rpc timeout")},
			expectedStatus: http.StatusBadGateway,
		},
		{
			name:           "oracle failure",
			err:            &models.OracleError{Op: "encrypt", Err: errors.New("unreachable")},
			expectedStatus: http.StatusBadGateway,
		},
		{
			name:           "unclassified",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.respondServiceError(w, "failed", tt.err)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestRoomToResponse(t *testing.T) {
	opponent := common.HexToAddress("0x2222222222222222222222222222222222222222")
	room := &models.Room{
		RoomID:    "42",
		Creator:   testPlayer,
		Wager:     big.NewInt(1_000_000),
		Phase:     models.PhaseWaitingForJoin,
		TurnCount: 0,
		CreatedAt: time.Now(),
	}

	resp := roomToResponse(room)
	if resp.Opponent != "" {
		t.Errorf("open room must omit opponent, got %q", resp.Opponent)
	}
	if resp.TurnOwner != testPlayer.Hex() {
		t.Errorf("turn owner %s, want creator on even turn count", resp.TurnOwner)
	}
	if resp.Wager != "1000000" {
		t.Errorf("wager %q, want 1000000", resp.Wager)
	}

	room.Opponent = opponent
	room.Phase = models.PhaseInProgress
	room.TurnCount = 3
	resp = roomToResponse(room)
	if resp.Opponent != opponent.Hex() {
		t.Errorf("opponent %q, want %s", resp.Opponent, opponent.Hex())
	}
	if resp.TurnOwner != opponent.Hex() {
		t.Errorf("turn owner %s, want opponent on odd turn count", resp.TurnOwner)
	}
}

func TestGuessToView(t *testing.T) {
	pending := models.Guess{
		TurnIndex: 2,
		Digits:    models.Digits{1, 2, 3, 4},
		Submitter: testPlayer,
		Pending:   true,
		TxHash:    "0xabc",
	}
	view := guessToView(pending)
	if view.Breached != nil || view.Injured != nil {
		t.Error("pending guess must not carry feedback")
	}
	if view.Digits != "1234" {
		t.Errorf("digits %q, want 1234", view.Digits)
	}

	resolved := pending
	resolved.Pending = false
	resolved.Result = &models.GuessResult{Breached: 1, Injured: 2}
	view = guessToView(resolved)
	if view.Breached == nil || *view.Breached != 1 {
		t.Errorf("breached %v, want 1", view.Breached)
	}
	if view.Injured == nil || *view.Injured != 2 {
		t.Errorf("injured %v, want 2", view.Injured)
	}
}

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()

	respondJSON(w, http.StatusOK, map[string]string{"key": "value"})

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type 'application/json', got '%s'", ct)
	}

	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if result["key"] != "value" {
		t.Errorf("expected key 'value', got '%s'", result["key"])
	}
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusBadRequest, "Bad request", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if errResp.Error != "Bad request" {
		t.Errorf("expected error 'Bad request', got '%s'", errResp.Error)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
