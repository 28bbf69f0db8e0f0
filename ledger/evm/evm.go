// Package evm implements ledger.Ledger against an ERC-20 style token contract
// on an EVM chain over JSON-RPC. Reads are eth_call round-trips; writes are
// signed transactions awaited to a mined receipt. Transport failures classify
// as ledger.UnavailableError and reverted transactions as
// ledger.RejectedError.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/heirloomhq/sdk/ledger"
)

const tokenABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var tokenABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic(err)
	}
	return a
}()

// Client is the subset of an Ethereum RPC client the adapter uses.
// *ethclient.Client satisfies it.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	Client  Client
	ChainID *big.Int

	// TokenContract is the ERC-20 contract all four operations go through.
	TokenContract ledger.Account

	// Operator is the account that submits pulls (transferFrom) on behalf of
	// the custody holder. Its key must be in Signers.
	Operator ledger.Account

	// Signers holds the session's signing keys by account. GrantAuthorization
	// requires the owner's key; Transfer requires the sender's key, or the
	// operator's when pulling from an account without one.
	Signers map[ledger.Account]*ecdsa.PrivateKey

	// GasLimit applies to every write. Defaults to 200000, matching the
	// upper bound the token's operations need.
	GasLimit uint64

	// ConfirmInterval is how often a submitted transaction's receipt is
	// polled for. Defaults to 2s.
	ConfirmInterval time.Duration

	LogWriter io.Writer
}

type Ledger struct {
	client          Client
	chainID         *big.Int
	token           common.Address
	operator        ledger.Account
	signers         map[ledger.Account]*ecdsa.PrivateKey
	gasLimit        uint64
	confirmInterval time.Duration
	logWriter       io.Writer
}

var _ ledger.Ledger = &Ledger{}
var _ ledger.DecimalsQuerier = &Ledger{}

func NewLedger(c Config) (*Ledger, error) {
	token, err := address(c.TokenContract)
	if err != nil {
		return nil, fmt.Errorf("token contract: %w", err)
	}
	if c.ChainID == nil {
		return nil, errors.New("chain ID is required")
	}
	l := &Ledger{
		client:          c.Client,
		chainID:         c.ChainID,
		token:           token,
		operator:        c.Operator,
		signers:         c.Signers,
		gasLimit:        c.GasLimit,
		confirmInterval: c.ConfirmInterval,
		logWriter:       c.LogWriter,
	}
	if l.gasLimit == 0 {
		l.gasLimit = 200000
	}
	if l.confirmInterval == 0 {
		l.confirmInterval = 2 * time.Second
	}
	if l.logWriter == nil {
		l.logWriter = io.Discard
	}
	return l, nil
}

// ValidateAccount reports whether the account is a well-formed hex address.
// It satisfies registry.AccountValidator.
func ValidateAccount(a ledger.Account) error {
	_, err := address(a)
	return err
}

func address(a ledger.Account) (common.Address, error) {
	if !common.IsHexAddress(string(a)) {
		return common.Address{}, fmt.Errorf("account %q is not a hex address", a)
	}
	return common.HexToAddress(string(a)), nil
}

func (l *Ledger) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s call: %w", method, err)
	}
	out, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &l.token, Data: data}, nil)
	if err != nil {
		return nil, ledger.NewUnavailableError(fmt.Errorf("calling %s: %w", method, err))
	}
	vals, err := tokenABI.Unpack(method, out)
	if err != nil {
		return nil, ledger.NewRejectedError(fmt.Errorf("unpacking %s result: %w", method, err))
	}
	return vals, nil
}

func (l *Ledger) callUint(ctx context.Context, method string, args ...interface{}) (uint64, error) {
	vals, err := l.call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return 0, ledger.NewRejectedError(fmt.Errorf("%s returned %T, want uint256", method, vals[0]))
	}
	if !v.IsUint64() {
		return 0, ledger.NewRejectedError(fmt.Errorf("%s result %s exceeds the smallest-unit range", method, v))
	}
	return v.Uint64(), nil
}

func (l *Ledger) BalanceOf(ctx context.Context, account ledger.Account) (uint64, error) {
	addr, err := address(account)
	if err != nil {
		return 0, ledger.NewRejectedError(err)
	}
	return l.callUint(ctx, "balanceOf", addr)
}

func (l *Ledger) AuthorizationOf(ctx context.Context, owner, spender ledger.Account) (uint64, error) {
	ownerAddr, err := address(owner)
	if err != nil {
		return 0, ledger.NewRejectedError(err)
	}
	spenderAddr, err := address(spender)
	if err != nil {
		return 0, ledger.NewRejectedError(err)
	}
	return l.callUint(ctx, "allowance", ownerAddr, spenderAddr)
}

// Decimals queries the token's declared decimal places. Callers cache the
// answer per session; see the amount package.
func (l *Ledger) Decimals(ctx context.Context) (uint8, error) {
	vals, err := l.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, ledger.NewRejectedError(fmt.Errorf("decimals returned %T, want uint8", vals[0]))
	}
	return d, nil
}

func (l *Ledger) GrantAuthorization(ctx context.Context, owner, spender ledger.Account, amount uint64) error {
	spenderAddr, err := address(spender)
	if err != nil {
		return ledger.NewRejectedError(err)
	}
	return l.write(ctx, owner, "approve", spenderAddr, new(big.Int).SetUint64(amount))
}

// Transfer moves amount between accounts. When the sender's key is held it is
// a direct transfer signed by the sender; otherwise the operator submits a
// pull against the sender's standing authorization.
func (l *Ledger) Transfer(ctx context.Context, from, to ledger.Account, amount uint64) error {
	fromAddr, err := address(from)
	if err != nil {
		return ledger.NewRejectedError(err)
	}
	toAddr, err := address(to)
	if err != nil {
		return ledger.NewRejectedError(err)
	}
	if _, ok := l.signers[from]; ok {
		return l.write(ctx, from, "transfer", toAddr, new(big.Int).SetUint64(amount))
	}
	return l.write(ctx, l.operator, "transferFrom", fromAddr, toAddr, new(big.Int).SetUint64(amount))
}

// write signs a token call as signer, submits it, and waits for it to be
// mined. A mined-but-reverted transaction is a rejection; everything that
// prevents learning the outcome is unavailability.
func (l *Ledger) write(ctx context.Context, signer ledger.Account, method string, args ...interface{}) error {
	key, ok := l.signers[signer]
	if !ok {
		return ledger.NewRejectedError(fmt.Errorf("no signing key for %s", signer))
	}
	signerAddr := crypto.PubkeyToAddress(key.PublicKey)

	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return ledger.NewRejectedError(fmt.Errorf("packing %s: %w", method, err))
	}
	nonce, err := l.client.PendingNonceAt(ctx, signerAddr)
	if err != nil {
		return ledger.NewUnavailableError(fmt.Errorf("getting nonce of %s: %w", signer, err))
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.NewUnavailableError(fmt.Errorf("getting gas price: %w", err))
	}
	tx := types.NewTransaction(nonce, l.token, big.NewInt(0), l.gasLimit, gasPrice, data)
	tx, err = types.SignTx(tx, types.LatestSignerForChainID(l.chainID), key)
	if err != nil {
		return ledger.NewRejectedError(fmt.Errorf("signing %s: %w", method, err))
	}
	err = l.client.SendTransaction(ctx, tx)
	if err != nil {
		return ledger.NewUnavailableError(fmt.Errorf("submitting %s: %w", method, err))
	}
	fmt.Fprintf(l.logWriter, "submitted %s tx %s, waiting for confirmation\n", method, tx.Hash())
	receipt, err := l.waitMined(ctx, tx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ledger.NewRejectedError(fmt.Errorf("%s tx %s reverted", method, tx.Hash()))
	}
	return nil
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	t := time.NewTicker(l.confirmInterval)
	defer t.Stop()
	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, ledger.NewUnavailableError(fmt.Errorf("getting receipt of %s: %w", hash, err))
		}
		select {
		case <-ctx.Done():
			// The transaction may still confirm later; the caller retries
			// once it knows the outcome.
			return nil, ledger.NewUnavailableError(fmt.Errorf("waiting for %s: %w", hash, ctx.Err()))
		case <-t.C:
		}
	}
}
