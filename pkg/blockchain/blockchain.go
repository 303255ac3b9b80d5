package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/super-x402/facilitator/pkg/config"
	"go.uber.org/zap"
)

var (
	// ErrChainRejected is returned when a transaction cannot be sent or is
	// mined with a failed status.
	ErrChainRejected = errors.New("transaction rejected by chain")
	// ErrChainTimeout is returned when a receipt does not appear within Timeouts.ReceiptWait.
	ErrChainTimeout = errors.New("timed out waiting for transaction receipt")
	// ErrSelfStream is returned when a flow's sender and receiver are the same account.
	ErrSelfStream = errors.New("cannot create stream to yourself")
)

// Backend is the chain access the gateway needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxObserver is notified when a transaction reaches a final state.
type TxObserver interface {
	ObserveTx(method string, elapsed time.Duration, err error)
}

// Option customizes an EVMClient.
type Option func(*EVMClient)

// WithTxObserver registers o for every write.
func WithTxObserver(o TxObserver) Option {
	return func(e *EVMClient) { e.observer = o }
}

// WithPollInterval sets the initial receipt polling interval. Default: 1s.
func WithPollInterval(d time.Duration) Option {
	return func(e *EVMClient) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// Addresses are the contracts an EVMClient talks to.
type Addresses struct {
	UnderlyingToken common.Address
	SuperToken      common.Address
	CFA             common.Address
	CFAForwarder    common.Address
}

// EVMClient is the chain gateway: it signs as the facilitator operator and
// exposes the reads and writes of the payment pipeline.
//
// Writes are serialized per operator so pending-nonce reads do not race; the
// receipt wait happens outside the lock.
type EVMClient struct {
	Client Backend

	key      *ecdsa.PrivateKey
	auth     *bind.TransactOpts
	operator common.Address
	chainID  *big.Int
	addrs    Addresses
	timeouts config.Timeouts

	underlying *bind.BoundContract
	super      *bind.BoundContract
	cfa        *bind.BoundContract
	forwarder  *bind.BoundContract

	sendMu       sync.Mutex
	pollInterval time.Duration
	maxBackoff   time.Duration
	observer     TxObserver
}

// Dial connects to cfg.RPCAddr, checks that the endpoint serves
// cfg.Network.ChainID and returns a ready gateway.
func Dial(ctx context.Context, cfg *config.Config, opts ...Option) (*EVMClient, error) {
	_, key, err := ParsePrivateKeyECDSA(cfg.KeyHex())
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	timeouts := cfg.Timeouts.WithDefaults()
	dialCtx, cancel := withTimeout(ctx, timeouts.Dial)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, cfg.RPCAddr)
	if err != nil {
		zap.L().Error("Failed to ethdial", zap.Error(err))
		return nil, err
	}

	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		zap.L().Error("failed to get chain ID", zap.Error(err))
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if chainID.Int64() != cfg.Network.ChainID {
		client.Close()
		return nil, fmt.Errorf("RPC endpoint serves chain %s, configured %d", chainID, cfg.Network.ChainID)
	}

	return New(client, cfg, key, opts...)
}

// New builds a gateway over an existing backend. The chain id is taken from
// cfg without querying the backend.
func New(backend Backend, cfg *config.Config, key *ecdsa.PrivateKey, opts ...Option) (*EVMClient, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if key == nil {
		return nil, errors.New("private key is required for transactions")
	}

	chainID := big.NewInt(cfg.Network.ChainID)
	auth, err := GetTransactOpts(chainID, key)
	if err != nil {
		return nil, err
	}

	addrs := Addresses{
		UnderlyingToken: common.HexToAddress(cfg.Contracts.UnderlyingToken.Address),
		SuperToken:      common.HexToAddress(cfg.Contracts.SuperToken.Address),
		CFA:             common.HexToAddress(cfg.Contracts.CFA),
		CFAForwarder:    common.HexToAddress(cfg.Contracts.CFAForwarder),
	}

	e := &EVMClient{
		Client:       backend,
		key:          key,
		auth:         auth,
		operator:     auth.From,
		chainID:      chainID,
		addrs:        addrs,
		timeouts:     cfg.Timeouts.WithDefaults(),
		underlying:   bind.NewBoundContract(addrs.UnderlyingToken, UnderlyingTokenABI, backend, backend, backend),
		super:        bind.NewBoundContract(addrs.SuperToken, SuperTokenABI, backend, backend, backend),
		cfa:          bind.NewBoundContract(addrs.CFA, CFAABI, backend, backend, backend),
		forwarder:    bind.NewBoundContract(addrs.CFAForwarder, CFAForwarderABI, backend, backend, backend),
		pollInterval: time.Second,
		maxBackoff:   8 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Operator returns the facilitator operator address.
func (e *EVMClient) Operator() common.Address { return e.operator }

// ChainID returns the configured chain id.
func (e *EVMClient) ChainID() *big.Int { return new(big.Int).Set(e.chainID) }

// Addresses returns the contract addresses in use.
func (e *EVMClient) Addresses() Addresses { return e.addrs }

// BlockNumber returns the latest block number.
func (e *EVMClient) BlockNumber(ctx context.Context) (*big.Int, error) {
	ctx, cancel := withTimeout(ctx, e.timeouts.ChainRead)
	defer cancel()
	header, err := e.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		zap.L().Error("failed to get last block number", zap.Error(err))
		return nil, err
	}
	return header.Number, nil
}

// Close releases the underlying connection when it supports closing.
func (e *EVMClient) Close() {
	if c, ok := e.Client.(interface{ Close() }); ok {
		c.Close()
	}
}

// withTimeout returns ctx unchanged if d <= 0, otherwise returns a child context with timeout d.
// The returned cancel function is always non-nil and should be called to release resources.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
