package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultwars/internal/models"
)

// Client talks to the FHE relayer: it encrypts guess/vault digits into
// ciphertext handles with an input proof, and decrypts handles emitted by
// the contract back into cleartext values. The cryptographic scheme is a
// black box on this side of the wire.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a relayer client for the given base endpoint.
func NewClient(endpoint string, logger *zap.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("oracle endpoint cannot be empty")
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// EncryptedInput is a batch of ciphertext handles bound to one input proof.
type EncryptedInput struct {
	Handles [models.DigitCount]models.Handle
	Proof   []byte
}

// Values is []int rather than the digits' natural []uint8: encoding/json
// serializes []uint8 as base64, and the relayer expects a number array.
type encryptRequest struct {
	ContractAddress string `json:"contract_address"`
	Values          []int  `json:"values"`
}

type encryptResponse struct {
	Handles []string `json:"handles"`
	Proof   string   `json:"proof"`
}

// Encrypt turns four plaintext digits into ciphertext handles plus the
// proof the contract verifies, bound to the target contract address.
//
// API endpoint: POST {endpoint}/v1/encrypt
func (c *Client) Encrypt(ctx context.Context, contract common.Address, digits models.Digits) (*EncryptedInput, error) {
	values := make([]int, len(digits))
	for i, d := range digits {
		values[i] = int(d)
	}
	req := encryptRequest{
		ContractAddress: contract.Hex(),
		Values:          values,
	}

	var resp encryptResponse
	if err := c.post(ctx, "/v1/encrypt", req, &resp); err != nil {
		return nil, &models.OracleError{Op: "encrypt", Err: err}
	}

	if len(resp.Handles) != models.DigitCount {
		return nil, &models.OracleError{Op: "encrypt", Err: fmt.Errorf("expected %d handles, got %d", models.DigitCount, len(resp.Handles))}
	}

	var input EncryptedInput
	for i, raw := range resp.Handles {
		h, err := models.HandleFromHex(raw)
		if err != nil {
			return nil, &models.OracleError{Op: "encrypt", Err: err}
		}
		input.Handles[i] = h
	}

	proof, err := hex.DecodeString(strings.TrimPrefix(resp.Proof, "0x"))
	if err != nil {
		return nil, &models.OracleError{Op: "encrypt", Err: fmt.Errorf("invalid proof hex: %w", err)}
	}
	input.Proof = proof

	return &input, nil
}

// DecryptionResult maps each requested handle to its cleartext value,
// together with the decryption proof that accompanies the batch.
type DecryptionResult struct {
	Values map[models.Handle]uint64
	Proof  []byte
}

type decryptRequest struct {
	Handles []string `json:"handles"`
}

type decryptResponse struct {
	Values map[string]uint64 `json:"values"`
	Proof  string            `json:"proof"`
}

// PublicDecrypt resolves a batch of ciphertext handles to cleartext in a
// single request. All handles belonging to one logical result must be
// passed together so they stay correlated to one proof. A failure here is
// an OracleError; callers must never default missing values.
//
// API endpoint: POST {endpoint}/v1/public-decrypt
func (c *Client) PublicDecrypt(ctx context.Context, handles []models.Handle) (*DecryptionResult, error) {
	if len(handles) == 0 {
		return nil, &models.OracleError{Op: "publicDecrypt", Err: fmt.Errorf("no handles requested")}
	}

	req := decryptRequest{Handles: make([]string, len(handles))}
	for i, h := range handles {
		req.Handles[i] = h.Hex()
	}

	var resp decryptResponse
	if err := c.post(ctx, "/v1/public-decrypt", req, &resp); err != nil {
		return nil, &models.OracleError{Op: "publicDecrypt", Err: err}
	}

	result := &DecryptionResult{Values: make(map[models.Handle]uint64, len(handles))}
	for _, h := range handles {
		value, ok := resp.Values[h.Hex()]
		if !ok {
			return nil, &models.OracleError{Op: "publicDecrypt", Err: fmt.Errorf("oracle response missing handle %s", h.Hex())}
		}
		result.Values[h] = value
	}

	proof, err := hex.DecodeString(strings.TrimPrefix(resp.Proof, "0x"))
	if err != nil {
		return nil, &models.OracleError{Op: "publicDecrypt", Err: fmt.Errorf("invalid proof hex: %w", err)}
	}
	result.Proof = proof

	c.logger.Debug("Handles decrypted", zap.Int("count", len(handles)))

	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(raw))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
