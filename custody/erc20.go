package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gift_custody/model"
	"github.com/gift_custody/repository"
	"github.com/holiman/uint256"
)

// minimal ERC20 ABI: the two transfer methods and their bool return
const erc20ABIJSON = `[
{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var (
	ErrNotContract = errors.New("no contract code at asset address")
	ErrReverted    = errors.New("transaction reverted")
)

// ChainBackend is the slice of *ethclient.Client the ERC20 asset uses.
type ChainBackend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ERC20Config describes one token held by the custody account.
type ERC20Config struct {
	Token    common.Address
	Custody  common.Address
	Symbol   string
	Decimals int32
	GasLimit uint64
	// ReceiptTimeout bounds the wait for a transfer to be mined.
	ReceiptTimeout time.Duration
}

// ERC20Asset moves an on-chain ERC20 token. Each transfer is simulated with
// eth_call first so the token's return data can be classified, then signed,
// journaled, broadcast from the custody account and waited on until mined.
// Only a successful receipt counts as a completed transfer.
type ERC20Asset struct {
	backend        ChainBackend
	journal        *repository.TransferRepository
	token          common.Address
	custody        common.Address
	signer         *Signer
	symbol         string
	decimals       int32
	gasLimit       uint64
	receiptTimeout time.Duration
	erc            abi.ABI

	mu sync.Mutex // serializes nonce allocation
}

func NewERC20Asset(backend ChainBackend, signer *Signer, journal *repository.TransferRepository, cfg ERC20Config) (*ERC20Asset, error) {
	if journal == nil {
		return nil, errors.New("erc20 asset needs a transfer journal")
	}
	erc, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, err
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 100000
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	return &ERC20Asset{
		backend:        backend,
		journal:        journal,
		token:          cfg.Token,
		custody:        cfg.Custody,
		signer:         signer,
		symbol:         cfg.Symbol,
		decimals:       cfg.Decimals,
		gasLimit:       cfg.GasLimit,
		receiptTimeout: cfg.ReceiptTimeout,
		erc:            erc,
	}, nil
}

func (a *ERC20Asset) Symbol() string  { return a.symbol }
func (a *ERC20Asset) Decimals() int32 { return a.decimals }

func (a *ERC20Asset) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (Result, error) {
	entry := &model.ChainTransfer{Method: "transfer", From: a.custody.Hex(), To: to.Hex(), Amount: amount.Dec()}
	return a.send(ctx, entry, to, amount.ToBig())
}

func (a *ERC20Asset) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) (Result, error) {
	entry := &model.ChainTransfer{Method: "transferFrom", From: from.Hex(), To: to.Hex(), Amount: amount.Dec()}
	return a.send(ctx, entry, from, to, amount.ToBig())
}

func (a *ERC20Asset) send(ctx context.Context, entry *model.ChainTransfer, args ...interface{}) (Result, error) {
	method := entry.Method
	code, err := a.backend.CodeAt(ctx, a.token, nil)
	if err != nil {
		return ExplicitFailure, fmt.Errorf("code at %s: %w", a.token.Hex(), err)
	}
	if len(code) == 0 {
		return ExplicitFailure, fmt.Errorf("%w: %s", ErrNotContract, a.token.Hex())
	}

	data, err := a.erc.Pack(method, args...)
	if err != nil {
		return ExplicitFailure, fmt.Errorf("pack %s: %w", method, err)
	}
	ret, err := a.backend.CallContract(ctx, ethereum.CallMsg{From: a.custody, To: &a.token, Data: data}, nil)
	if err != nil {
		return ExplicitFailure, fmt.Errorf("simulate %s: %w", method, err)
	}
	res, err := a.classify(method, ret)
	if err != nil || !res.OK() {
		return res, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	nonce, err := a.backend.PendingNonceAt(ctx, a.custody)
	if err != nil {
		return ExplicitFailure, err
	}
	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return ExplicitFailure, err
	}
	tx := types.NewTransaction(nonce, a.token, big.NewInt(0), a.gasLimit, gasPrice, data)
	signed, err := a.signer.Sign(ctx, tx)
	if err != nil {
		return ExplicitFailure, fmt.Errorf("sign %s: %w", method, err)
	}

	hash := signed.Hash().Hex()
	entry.TxHash = hash
	entry.Asset = a.token.Hex()
	entry.Status = model.TransferPending
	entry.Reference, _ = ReferenceFrom(ctx)
	if err := a.journal.Create(ctx, entry); err != nil {
		return ExplicitFailure, fmt.Errorf("journal %s: %w", method, err)
	}

	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		a.mark(ctx, hash, model.TransferFailed)
		return ExplicitFailure, fmt.Errorf("broadcast %s: %w", method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, a.backend, signed)
	if err != nil {
		// Left pending; the reconciler resolves it once a receipt shows up.
		return ExplicitFailure, fmt.Errorf("wait %s %s: %w", method, hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		a.mark(ctx, hash, model.TransferReverted)
		return ExplicitFailure, fmt.Errorf("%w: %s %s", ErrReverted, method, hash)
	}
	a.mark(ctx, hash, model.TransferMined)
	return res, nil
}

// mark records a journal state change. A failed write only delays the
// reconciler, which re-reads receipts for entries left pending.
func (a *ERC20Asset) mark(ctx context.Context, hash, status string) {
	_ = a.journal.SetStatus(context.WithoutCancel(ctx), hash, status)
}

// classify maps raw return data onto a Result: empty data is silence, a
// decodable bool is explicit, anything else is a misbehaving token.
func (a *ERC20Asset) classify(method string, ret []byte) (Result, error) {
	if len(ret) == 0 {
		return NoReturnData, nil
	}
	out, err := a.erc.Unpack(method, ret)
	if err != nil {
		return ExplicitFailure, fmt.Errorf("decode %s return: %w", method, err)
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return ExplicitFailure, fmt.Errorf("decode %s return: not a bool", method)
	}
	if !ok {
		return ExplicitFailure, nil
	}
	return ExplicitSuccess, nil
}
