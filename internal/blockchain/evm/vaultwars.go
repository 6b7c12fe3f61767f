package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"vaultwars/internal/models"
)

// VaultWarsABI is the ABI surface of the deployed game contract the client
// consumes: room/probe accessors plus the transaction entry points.
const VaultWarsABI = `[
	{
		"inputs": [{"internalType": "uint256", "name": "roomId", "type": "uint256"}],
		"name": "getRoom",
		"outputs": [
			{"internalType": "address", "name": "creator", "type": "address"},
			{"internalType": "address", "name": "opponent", "type": "address"},
			{"internalType": "uint256", "name": "wager", "type": "uint256"},
			{"internalType": "uint8", "name": "phase", "type": "uint8"},
			{"internalType": "uint256", "name": "turnCount", "type": "uint256"},
			{"internalType": "bytes32", "name": "encryptedWinner", "type": "bytes32"},
			{"internalType": "uint256", "name": "createdAt", "type": "uint256"},
			{"internalType": "uint256", "name": "lastActiveAt", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"internalType": "uint256", "name": "turnIndex", "type": "uint256"}
		],
		"name": "getProbe",
		"outputs": [
			{"internalType": "address", "name": "submitter", "type": "address"},
			{"internalType": "uint256", "name": "turn", "type": "uint256"},
			{"internalType": "bool", "name": "resultPosted", "type": "bool"},
			{"internalType": "uint256", "name": "timestamp", "type": "uint256"},
			{"internalType": "bytes32", "name": "isWinningProbe", "type": "bytes32"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "roomId", "type": "uint256"}],
		"name": "getLastResultEncrypted",
		"outputs": [
			{"internalType": "bytes32", "name": "breaches", "type": "bytes32"},
			{"internalType": "bytes32", "name": "signals", "type": "bytes32"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "roomId", "type": "uint256"}],
		"name": "roomExists",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"internalType": "address", "name": "player", "type": "address"}
		],
		"name": "isPlayerTurn",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "player", "type": "address"}],
		"name": "getPlayerWins",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32[4]", "name": "vaultHandles", "type": "bytes32[4]"},
			{"internalType": "bytes", "name": "proof", "type": "bytes"}
		],
		"name": "createRoom",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"internalType": "bytes32[4]", "name": "vaultHandles", "type": "bytes32[4]"},
			{"internalType": "bytes", "name": "proof", "type": "bytes"}
		],
		"name": "joinRoom",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"internalType": "bytes32[4]", "name": "guessHandles", "type": "bytes32[4]"},
			{"internalType": "bytes", "name": "proof", "type": "bytes"}
		],
		"name": "submitProbe",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "roomId", "type": "uint256"}],
		"name": "cancelRoom",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "roomId", "type": "uint256"}],
		"name": "claimTimeout",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"internalType": "bytes", "name": "cleartext", "type": "bytes"},
			{"internalType": "bytes", "name": "decryptionProof", "type": "bytes"}
		],
		"name": "fulfillDecryption",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "creator", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "wager", "type": "uint256"}
		],
		"name": "RoomCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "opponent", "type": "address"}
		],
		"name": "RoomJoined",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "player", "type": "address"}
		],
		"name": "VaultSubmitted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "submitter", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "turnIndex", "type": "uint256"}
		],
		"name": "ProbeSubmitted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "submitter", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "turnIndex", "type": "uint256"},
			{"indexed": false, "internalType": "bytes32", "name": "breachesHandle", "type": "bytes32"},
			{"indexed": false, "internalType": "bytes32", "name": "signalsHandle", "type": "bytes32"},
			{"indexed": false, "internalType": "bytes32", "name": "winHandle", "type": "bytes32"},
			{"indexed": false, "internalType": "bytes32[4]", "name": "guessHandles", "type": "bytes32[4]"}
		],
		"name": "ResultComputed",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "winner", "type": "address"}
		],
		"name": "WinnerDecrypted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "winner", "type": "address"}
		],
		"name": "GameFinished",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "roomId", "type": "uint256"}
		],
		"name": "RoomCancelled",
		"type": "event"
	}
]`

// TxTimeout bounds how long a write waits for its receipt.
const TxTimeout = 2 * time.Minute

// ProbeRecord is the on-chain record of one probe slot.
type ProbeRecord struct {
	Submitter      common.Address
	Turn           uint64
	ResultPosted   bool
	Timestamp      time.Time
	IsWinningProbe models.Handle
}

// Contract binds the Vault Wars game contract at a fixed address.
type Contract struct {
	client  *Client
	address common.Address
	abi     abi.ABI
	logger  *zap.Logger
}

// NewContract parses the ABI and binds it to the deployed address.
func NewContract(client *Client, address common.Address, logger *zap.Logger) (*Contract, error) {
	parsedABI, err := abi.JSON(strings.NewReader(VaultWarsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	return &Contract{
		client:  client,
		address: address,
		abi:     parsedABI,
		logger:  logger,
	}, nil
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

func parseRoomID(roomID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(roomID, 10)
	if !ok {
		return nil, &models.ValidationError{Field: "roomId", Reason: fmt.Sprintf("not a decimal number: %q", roomID)}
	}
	return id, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := c.client.CallContract(ctx, c.address, data)
	if err != nil {
		return nil, &models.ChainReadError{Op: method, Err: err}
	}

	values, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, &models.ChainReadError{Op: method, Err: fmt.Errorf("failed to unpack: %w", err)}
	}
	return values, nil
}

// GetRoom fetches the room record. A zero creator address means the
// contract has never seen this id.
func (c *Contract) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return nil, err
	}

	values, err := c.call(ctx, "getRoom", id)
	if err != nil {
		return nil, err
	}
	if len(values) != 8 {
		return nil, &models.ChainReadError{Op: "getRoom", Err: fmt.Errorf("unexpected output count %d", len(values))}
	}

	creator := values[0].(common.Address)
	if creator == (common.Address{}) {
		return nil, models.ErrRoomNotFound
	}

	phase, err := models.PhaseFromUint8(values[3].(uint8))
	if err != nil {
		return nil, &models.ChainReadError{Op: "getRoom", Err: err}
	}

	return &models.Room{
		RoomID:          roomID,
		Creator:         creator,
		Opponent:        values[1].(common.Address),
		Wager:           values[2].(*big.Int),
		Phase:           phase,
		TurnCount:       values[4].(*big.Int).Uint64(),
		EncryptedWinner: models.Handle(values[5].([32]byte)),
		CreatedAt:       time.Unix(values[6].(*big.Int).Int64(), 0).UTC(),
		LastActiveAt:    time.Unix(values[7].(*big.Int).Int64(), 0).UTC(),
	}, nil
}

// GetProbe fetches one probe slot by turn index.
func (c *Contract) GetProbe(ctx context.Context, roomID string, turnIndex uint64) (*ProbeRecord, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return nil, err
	}

	values, err := c.call(ctx, "getProbe", id, new(big.Int).SetUint64(turnIndex))
	if err != nil {
		return nil, err
	}
	if len(values) != 5 {
		return nil, &models.ChainReadError{Op: "getProbe", Err: fmt.Errorf("unexpected output count %d", len(values))}
	}

	submitter := values[0].(common.Address)
	if submitter == (common.Address{}) {
		return nil, models.ErrProbeNotFound
	}

	return &ProbeRecord{
		Submitter:      submitter,
		Turn:           values[1].(*big.Int).Uint64(),
		ResultPosted:   values[2].(bool),
		Timestamp:      time.Unix(values[3].(*big.Int).Int64(), 0).UTC(),
		IsWinningProbe: models.Handle(values[4].([32]byte)),
	}, nil
}

// GetLastResultEncrypted fetches the latest breach/signal ciphertext
// handles for a room.
func (c *Contract) GetLastResultEncrypted(ctx context.Context, roomID string) (breaches, signals models.Handle, err error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return models.Handle{}, models.Handle{}, err
	}

	values, err := c.call(ctx, "getLastResultEncrypted", id)
	if err != nil {
		return models.Handle{}, models.Handle{}, err
	}
	if len(values) != 2 {
		return models.Handle{}, models.Handle{}, &models.ChainReadError{Op: "getLastResultEncrypted", Err: fmt.Errorf("unexpected output count %d", len(values))}
	}

	return models.Handle(values[0].([32]byte)), models.Handle(values[1].([32]byte)), nil
}

// RoomExists reports whether the contract knows the room id.
func (c *Contract) RoomExists(ctx context.Context, roomID string) (bool, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return false, err
	}

	values, err := c.call(ctx, "roomExists", id)
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

// IsPlayerTurn asks the contract who owns the current turn.
func (c *Contract) IsPlayerTurn(ctx context.Context, roomID string, player common.Address) (bool, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return false, err
	}

	values, err := c.call(ctx, "isPlayerTurn", id, player)
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

// GetPlayerWins returns the lifetime win count for an address.
func (c *Contract) GetPlayerWins(ctx context.Context, player common.Address) (uint64, error) {
	values, err := c.call(ctx, "getPlayerWins", player)
	if err != nil {
		return 0, err
	}
	return values[0].(*big.Int).Uint64(), nil
}

func handlesToBytes(handles [models.DigitCount]models.Handle) [models.DigitCount][32]byte {
	var out [models.DigitCount][32]byte
	for i, h := range handles {
		out[i] = h
	}
	return out
}

func (c *Contract) send(ctx context.Context, method string, value *big.Int, args ...interface{}) (*types.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, &models.ChainWriteError{Op: method, Err: fmt.Errorf("failed to pack: %w", err)}
	}

	txHash, err := c.client.SignAndSendTransaction(ctx, c.address, data, value)
	if err != nil {
		return nil, &models.ChainWriteError{Op: method, Err: err}
	}

	receipt, err := c.client.WaitForTransaction(ctx, txHash, TxTimeout)
	if err != nil {
		return nil, &models.ChainWriteError{Op: method, Err: err}
	}
	return receipt, nil
}

// CreateRoom opens a new room with the encrypted vault and the wager as
// transaction value, returning the room id assigned by the contract.
func (c *Contract) CreateRoom(ctx context.Context, vaultHandles [models.DigitCount]models.Handle, proof []byte, wager *big.Int) (string, common.Hash, error) {
	receipt, err := c.send(ctx, "createRoom", wager, handlesToBytes(vaultHandles), proof)
	if err != nil {
		return "", common.Hash{}, err
	}

	createdID := c.abi.Events["RoomCreated"].ID
	for _, lg := range receipt.Logs {
		if lg.Address == c.address && len(lg.Topics) > 1 && lg.Topics[0] == createdID {
			roomID := new(big.Int).SetBytes(lg.Topics[1].Bytes()).String()
			c.logger.Info("Room created",
				zap.String("room_id", roomID),
				zap.String("tx_hash", receipt.TxHash.Hex()))
			return roomID, receipt.TxHash, nil
		}
	}
	return "", receipt.TxHash, &models.ChainWriteError{Op: "createRoom", Err: fmt.Errorf("no RoomCreated log in receipt %s", receipt.TxHash.Hex())}
}

// JoinRoom enters an existing room, matching the wager as transaction value.
func (c *Contract) JoinRoom(ctx context.Context, roomID string, vaultHandles [models.DigitCount]models.Handle, proof []byte, wager *big.Int) (common.Hash, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.send(ctx, "joinRoom", wager, id, handlesToBytes(vaultHandles), proof)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// SubmitProbe submits an encrypted guess for the current turn.
func (c *Contract) SubmitProbe(ctx context.Context, roomID string, guessHandles [models.DigitCount]models.Handle, proof []byte) (common.Hash, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.send(ctx, "submitProbe", nil, id, handlesToBytes(guessHandles), proof)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// CancelRoom cancels a room that nobody has joined yet.
func (c *Contract) CancelRoom(ctx context.Context, roomID string) (common.Hash, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.send(ctx, "cancelRoom", nil, id)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ClaimTimeout claims the win when the opponent has been idle past the
// timeout window.
func (c *Contract) ClaimTimeout(ctx context.Context, roomID string) (common.Hash, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.send(ctx, "claimTimeout", nil, id)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// FulfillDecryption submits the decrypted winner plus proof, triggering
// payout on-chain.
func (c *Contract) FulfillDecryption(ctx context.Context, roomID string, cleartext, decryptionProof []byte) (common.Hash, error) {
	id, err := parseRoomID(roomID)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := c.send(ctx, "fulfillDecryption", nil, id, cleartext, decryptionProof)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// LatestBlock returns the chain head block number.
func (c *Contract) LatestBlock(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

// FilterLogs returns the contract's logs in the inclusive block range.
func (c *Contract) FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	return c.client.FilterLogs(ctx, c.address, fromBlock, toBlock)
}

// ParseLog decodes a raw log into its typed domain event. Logs whose
// topic does not match a known event kind return an error and are skipped
// by the caller.
func (c *Contract) ParseLog(lg types.Log) (models.DomainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	var name string
	for n, ev := range c.abi.Events {
		if ev.ID == lg.Topics[0] {
			name = n
			break
		}
	}
	if name == "" {
		return nil, fmt.Errorf("unknown event topic %s", lg.Topics[0].Hex())
	}
	if len(lg.Topics) < 2 {
		return nil, fmt.Errorf("event %s missing indexed roomId", name)
	}

	meta := models.EventMeta{
		RoomID:      new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}

	values, err := c.abi.Unpack(name, lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", name, err)
	}

	switch models.EventKind(name) {
	case models.EventRoomCreated:
		return models.RoomCreatedEvent{
			EventMeta: meta,
			Creator:   values[0].(common.Address),
			Wager:     values[1].(*big.Int),
		}, nil
	case models.EventRoomJoined:
		return models.RoomJoinedEvent{
			EventMeta: meta,
			Opponent:  values[0].(common.Address),
		}, nil
	case models.EventVaultSubmitted:
		return models.VaultSubmittedEvent{
			EventMeta: meta,
			Player:    values[0].(common.Address),
		}, nil
	case models.EventProbeSubmitted:
		return models.ProbeSubmittedEvent{
			EventMeta: meta,
			Submitter: values[0].(common.Address),
			TurnIndex: values[1].(*big.Int).Uint64(),
		}, nil
	case models.EventResultComputed:
		raw := values[5].([models.DigitCount][32]byte)
		var guessHandles [models.DigitCount]models.Handle
		for i, b := range raw {
			guessHandles[i] = models.Handle(b)
		}
		return models.ResultComputedEvent{
			EventMeta:      meta,
			Submitter:      values[0].(common.Address),
			TurnIndex:      values[1].(*big.Int).Uint64(),
			BreachesHandle: models.Handle(values[2].([32]byte)),
			SignalsHandle:  models.Handle(values[3].([32]byte)),
			WinHandle:      models.Handle(values[4].([32]byte)),
			GuessHandles:   guessHandles,
		}, nil
	case models.EventWinnerDecrypted:
		return models.WinnerDecryptedEvent{
			EventMeta: meta,
			Winner:    values[0].(common.Address),
		}, nil
	case models.EventGameFinished:
		return models.GameFinishedEvent{
			EventMeta: meta,
			Winner:    values[0].(common.Address),
		}, nil
	case models.EventRoomCancelled:
		return models.RoomCancelledEvent{EventMeta: meta}, nil
	default:
		return nil, fmt.Errorf("unhandled event %s", name)
	}
}
