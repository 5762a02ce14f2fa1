package cosmwasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
	"github.com/alanyoungcy/perpkeeper/internal/retry"
)

// codeWrongSequence is sdkerrors.ErrWrongSequence.
const codeWrongSequence = 32

// KeySigner signs sign documents on behalf of one account.
type KeySigner interface {
	Address() string
	PubKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// WalletConfig holds the transaction parameters of the signing client.
type WalletConfig struct {
	ChainID   string
	Denom     string
	GasPrice  decimal.Decimal
	BaseGas   uint64
	GasPerMsg uint64
	Memo      string
	// Confirm bounds the polling for block inclusion after broadcast.
	Confirm retry.Policy
}

// SigningClient signs and broadcasts multi-message execute transactions from
// a single account. Submissions are serialized so the account sequence is
// never used twice.
type SigningClient struct {
	lcd    *Client
	key    KeySigner
	cfg    WalletConfig
	logger *slog.Logger

	mu      sync.Mutex
	nextSeq uint64
}

// NewSigningClient creates a signing client for key.
func NewSigningClient(lcd *Client, key KeySigner, cfg WalletConfig, logger *slog.Logger) *SigningClient {
	return &SigningClient{
		lcd:    lcd,
		key:    key,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "wallet")),
	}
}

// Address returns the keeper account address.
func (w *SigningClient) Address() string { return w.key.Address() }

// Balance returns the keeper's balance of the fee denom.
func (w *SigningClient) Balance(ctx context.Context) (sdkmath.Int, error) {
	return w.lcd.Balance(ctx, w.key.Address(), w.cfg.Denom)
}

// ExecuteMultiple sends every instruction as one atomic transaction and waits
// until it is included in a block.
func (w *SigningClient) ExecuteMultiple(ctx context.Context, instrs []domain.ExecuteInstruction) (domain.TxResult, error) {
	if len(instrs) == 0 {
		return domain.TxResult{}, domain.ErrNoInstructions
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sender := w.key.Address()
	msgs := make([]ExecuteContractMsg, 0, len(instrs))
	for _, in := range instrs {
		raw, err := json.Marshal(in.Msg)
		if err != nil {
			return domain.TxResult{}, fmt.Errorf("cosmwasm: marshal %s: %w", in.Kind(), err)
		}
		msgs = append(msgs, ExecuteContractMsg{Sender: sender, Contract: in.ContractAddress, Msg: raw})
	}

	acct, err := w.lcd.Account(ctx, sender)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("cosmwasm: load account: %w", err)
	}
	seq := acct.Sequence
	if w.nextSeq > seq {
		seq = w.nextSeq
	}

	txBytes, err := w.sign(msgs, acct.AccountNumber, seq)
	if err != nil {
		return domain.TxResult{}, err
	}

	res, err := w.lcd.Broadcast(ctx, txBytes)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("cosmwasm: broadcast: %w", err)
	}
	if res.Code != 0 {
		if res.Code == codeWrongSequence {
			w.nextSeq = 0
		}
		return domain.TxResult{}, fmt.Errorf("%w: check tx code %d (%s): %s", domain.ErrTxFailed, res.Code, res.Codespace, res.RawLog)
	}
	w.nextSeq = seq + 1

	w.logger.DebugContext(ctx, "tx broadcast",
		slog.String("hash", res.TxHash),
		slog.Int("msgs", len(msgs)),
		slog.Uint64("sequence", seq),
	)

	tx, err := w.awaitInclusion(ctx, res.TxHash)
	if err != nil {
		return domain.TxResult{Hash: res.TxHash}, err
	}
	if tx.Code != 0 {
		return domain.TxResult{Hash: tx.TxHash, Height: tx.Height}, fmt.Errorf("%w: %s code %d (%s): %s", domain.ErrTxFailed, tx.TxHash, tx.Code, tx.Codespace, tx.RawLog)
	}
	return domain.TxResult{
		Hash:      tx.TxHash,
		Height:    tx.Height,
		GasWanted: tx.GasWanted,
		GasUsed:   tx.GasUsed,
	}, nil
}

func (w *SigningClient) sign(msgs []ExecuteContractMsg, accountNumber, sequence uint64) ([]byte, error) {
	gas := w.cfg.BaseGas + w.cfg.GasPerMsg*uint64(len(msgs))
	fee := Fee{
		Amount:   []Coin{{Denom: w.cfg.Denom, Amount: FeeAmount(gas, w.cfg.GasPrice).String()}},
		GasLimit: gas,
	}

	body := encodeTxBody(msgs, w.cfg.Memo, 0)
	authInfo := encodeAuthInfo(w.key.PubKey(), sequence, fee)
	sig, err := w.key.Sign(encodeSignDoc(body, authInfo, w.cfg.ChainID, accountNumber))
	if err != nil {
		return nil, fmt.Errorf("cosmwasm: sign tx: %w", err)
	}
	return encodeTxRaw(body, authInfo, sig), nil
}

func (w *SigningClient) awaitInclusion(ctx context.Context, hash string) (TxResponse, error) {
	tx, err := retry.DoValue(ctx, w.cfg.Confirm, func(ctx context.Context) (TxResponse, error) {
		return w.lcd.GetTx(ctx, hash)
	}, func(attempt int, err error, wait time.Duration) {
		if !errors.Is(err, domain.ErrNotFound) {
			w.logger.WarnContext(ctx, "tx lookup failed",
				slog.String("hash", hash),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return TxResponse{}, fmt.Errorf("%w: %s: %v", domain.ErrTxNotIncluded, hash, err)
	}
	return tx, nil
}

// FeeAmount returns ceil(gas * gasPrice).
func FeeAmount(gas uint64, gasPrice decimal.Decimal) sdkmath.Int {
	fee := decimal.NewFromInt(int64(gas)).Mul(gasPrice).Ceil()
	return sdkmath.NewIntFromBigInt(fee.BigInt())
}
