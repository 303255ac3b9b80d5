package blockchain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/super-x402/facilitator/pkg/config"
)

var errReverted = errors.New("execution reverted")

type readHandler func(args []any) ([]any, error)

// fakeBackend is an in-memory chain: reads are answered by handlers keyed
// "<contract>.<method>", writes are mined immediately unless told otherwise.
// Any backend method not overridden here panics through the nil embed.
type fakeBackend struct {
	bind.ContractBackend

	mu        sync.Mutex
	contracts map[common.Address]fakeContract
	reads     map[string]readHandler
	nonce     uint64
	sent      []string
	byHash    map[common.Hash]string
	sendErr   map[string]error
	reverted  map[string]bool
	noReceipt bool
	afterSend func()
}

type fakeContract struct {
	label string
	abi   abi.ABI
}

func newFakeBackend(cfg *config.Config) *fakeBackend {
	return &fakeBackend{
		contracts: map[common.Address]fakeContract{
			common.HexToAddress(cfg.Contracts.UnderlyingToken.Address): {"usdc", UnderlyingTokenABI},
			common.HexToAddress(cfg.Contracts.SuperToken.Address):      {"usdcx", SuperTokenABI},
			common.HexToAddress(cfg.Contracts.CFA):                     {"cfa", CFAABI},
			common.HexToAddress(cfg.Contracts.CFAForwarder):            {"forwarder", CFAForwarderABI},
		},
		reads:    map[string]readHandler{},
		byHash:   map[common.Hash]string{},
		sendErr:  map[string]error{},
		reverted: map[string]bool{},
	}
}

func (f *fakeBackend) onRead(key string, h readHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[key] = h
}

func (f *fakeBackend) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeBackend) decode(to *common.Address, data []byte) (string, *abi.Method, []any, error) {
	if to == nil || len(data) < 4 {
		return "", nil, nil, errors.New("bad call")
	}
	c, ok := f.contracts[*to]
	if !ok {
		return "", nil, nil, fmt.Errorf("unknown contract %s", to.Hex())
	}
	m, err := c.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, nil, err
	}
	return c.label + "." + m.Name, m, args, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	key, m, args, err := f.decode(msg.To, msg.Data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	h, ok := f.reads[key]
	f.mu.Unlock()
	if !ok {
		return nil, errReverted
	}
	out, err := h(args)
	if err != nil {
		return nil, err
	}
	return m.Outputs.Pack(out...)
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100)}, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	key, _, _, err := f.decode(tx.To(), tx.Data())
	if err != nil {
		return err
	}
	f.mu.Lock()
	if err := f.sendErr[key]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.nonce++
	f.sent = append(f.sent, key)
	f.byHash[tx.Hash()] = key
	hook := f.afterSend
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.byHash[hash]
	if !ok || f.noReceipt {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted[key] {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(101)}, nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(config.Base.ChainID), nil
}

func testConfig(t *testing.T, key *ecdsa.PrivateKey) *config.Config {
	t.Helper()
	cfg := &config.Config{
		RPCAddr:    "http://127.0.0.1:8545",
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		Timeouts:   config.Timeouts{ReceiptWait: 2 * time.Second},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newTestClient(t *testing.T) (*EVMClient, *fakeBackend) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg := testConfig(t, key)
	backend := newFakeBackend(cfg)
	e, err := New(backend, cfg, key, WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, backend
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
