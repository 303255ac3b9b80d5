// Package fakechain provides an in-memory chain gateway and a payer that signs
// EIP-3009 authorizations, for pipeline and HTTP tests.
package fakechain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/model"
	"github.com/super-x402/facilitator/pkg/payment"
)

// Gateway records every call and answers from its fields. The zero value
// is not usable; build one with New.
type Gateway struct {
	mu sync.Mutex

	operator common.Address
	seq      byte
	calls    []string

	// Allowance is the operator's current allowance; nil means unlimited.
	Allowance *big.Int
	// Mode is the wrap mode to simulate.
	Mode model.WrapMode
	// Permissions is the flow operator mask reported for every payer.
	Permissions uint8
	// FlowRates maps "sender>receiver" to an existing flow rate.
	FlowRates map[string]*big.Int
	// Balance is returned by Balances for every account.
	Balance model.Balances

	TransferErr    error
	ApproveErr     error
	WrapErr        error
	PermissionsErr error
	CreateFlowErr  error
	FlowRateErr    error

	// TransferBroadcast makes a failing transfer return a hash, like a
	// transaction that was sent but never confirmed.
	TransferBroadcast bool

	// WrapAmount and FlowRate record the last wrap and flow arguments.
	WrapAmount *big.Int
	FlowRate   *big.Int
}

// New returns a gateway acting for operator with full flow permissions.
func New(operator common.Address) *Gateway {
	return &Gateway{
		operator:    operator,
		Permissions: model.FullFlowPermissions,
		FlowRates:   map[string]*big.Int{},
		Balance:     model.Balances{Underlying: new(big.Int), Super: new(big.Int)},
	}
}

// Calls returns the gateway methods invoked so far, in order.
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// Writes returns only the calls that would broadcast a transaction.
func (g *Gateway) Writes() []string {
	var out []string
	for _, c := range g.Calls() {
		switch c {
		case "transferWithAuthorization", "approve", "upgradeTo", "upgrade", "transfer", "setFlowrateFrom":
			out = append(out, c)
		}
	}
	return out
}

// SetFlowRate registers an active flow.
func (g *Gateway) SetFlowRate(sender, receiver common.Address, rate int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.FlowRates[flowKey(sender, receiver)] = big.NewInt(rate)
}

func flowKey(sender, receiver common.Address) string {
	return sender.Hex() + ">" + receiver.Hex()
}

func (g *Gateway) record(call string) common.Hash {
	g.calls = append(g.calls, call)
	g.seq++
	return common.Hash{31: g.seq}
}

func (g *Gateway) Operator() common.Address { return g.operator }

func (g *Gateway) TransferWithAuthorization(_ context.Context, _ *model.PaymentAuthorization) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TransferErr != nil {
		if g.TransferBroadcast {
			return g.record("transferWithAuthorization"), g.TransferErr
		}
		g.calls = append(g.calls, "transferWithAuthorization")
		return common.Hash{}, g.TransferErr
	}
	return g.record("transferWithAuthorization"), nil
}

func (g *Gateway) EnsureAllowance(_ context.Context, _ common.Address, amount *big.Int) (*common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "allowance")
	if g.Allowance == nil || g.Allowance.Cmp(amount) >= 0 {
		return nil, nil
	}
	if g.ApproveErr != nil {
		return nil, g.ApproveErr
	}
	h := g.record("approve")
	return &h, nil
}

func (g *Gateway) Wrap(_ context.Context, _ common.Address, amount *big.Int) (model.WrapResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.WrapAmount = new(big.Int).Set(amount)
	res := model.WrapResult{Mode: g.Mode}
	if g.Mode == model.WrapDirect {
		if g.WrapErr != nil {
			return res, g.WrapErr
		}
		res.TxHashes = append(res.TxHashes, g.record("upgradeTo"))
		return res, nil
	}
	res.TxHashes = append(res.TxHashes, g.record("upgrade"))
	if g.WrapErr != nil {
		return res, g.WrapErr
	}
	res.TxHashes = append(res.TxHashes, g.record("transfer"))
	return res, nil
}

func (g *Gateway) CheckFlowPermissions(_ context.Context, _, _ common.Address) (model.FlowPermissions, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "getFlowOperatorData")
	if g.PermissionsErr != nil {
		return model.FlowPermissions{}, g.PermissionsErr
	}
	return model.NewFlowPermissions(g.Permissions, big.NewInt(1e15)), nil
}

func (g *Gateway) CreateFlow(_ context.Context, _, _ common.Address, rate *big.Int) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.FlowRate = new(big.Int).Set(rate)
	if g.CreateFlowErr != nil {
		g.calls = append(g.calls, "setFlowrateFrom")
		return common.Hash{}, g.CreateFlowErr
	}
	return g.record("setFlowrateFrom"), nil
}

func (g *Gateway) GetFlowRate(_ context.Context, sender, receiver common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "getFlowrate")
	if g.FlowRateErr != nil {
		return nil, g.FlowRateErr
	}
	if r, ok := g.FlowRates[flowKey(sender, receiver)]; ok {
		return new(big.Int).Set(r), nil
	}
	return new(big.Int), nil
}

func (g *Gateway) Balances(_ context.Context, _ common.Address) (model.Balances, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "balanceOf")
	return g.Balance, nil
}

// Now is the fixed clock tests run the pipeline with.
var Now = time.Unix(1_750_000_000, 0)

// Config returns a validated Base configuration signed by a fresh operator key.
func Config(t testing.TB) (*config.Config, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := &config.Config{
		RPCAddr:    "http://127.0.0.1:8545",
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	return cfg, crypto.PubkeyToAddress(key.PublicKey)
}

// Payer signs authorizations for one account.
type Payer struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
	domain  payment.Domain
	network string
	nonce   byte
}

// NewPayer creates a payer with a fresh key for cfg's token and network.
func NewPayer(t testing.TB, cfg *config.Config) *Payer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Payer{
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		domain:  payment.DomainFromConfig(cfg),
		network: cfg.Network.Name,
	}
}

// Authorization returns a signed authorization of value to payee, valid for
// an hour around Now. mutate, when given, runs before signing.
func (p *Payer) Authorization(t testing.TB, payee common.Address, value int64, mutate ...func(*model.PaymentAuthorization)) *model.PaymentAuthorization {
	t.Helper()
	p.nonce++
	auth := &model.PaymentAuthorization{
		From:        p.Address,
		To:          payee,
		Value:       big.NewInt(value),
		ValidAfter:  big.NewInt(Now.Add(-time.Minute).Unix()),
		ValidBefore: big.NewInt(Now.Add(time.Hour).Unix()),
		Nonce:       [32]byte{0: 0xab, 31: p.nonce},
		Account:     p.Address,
	}
	for _, m := range mutate {
		m(auth)
	}
	if err := payment.SignAuthorization(auth, p.domain, p.Key); err != nil {
		t.Fatalf("sign authorization: %v", err)
	}
	return auth
}

// Header returns the X-PAYMENT value for a signed authorization.
func (p *Payer) Header(t testing.TB, payee common.Address, value int64, mutate ...func(*model.PaymentAuthorization)) string {
	t.Helper()
	return Encode(t, payment.NewPaymentPayload(p.network, p.Authorization(t, payee, value, mutate...)))
}

// Encode base64-encodes an envelope.
func Encode(t testing.TB, pl *payment.PaymentPayload) string {
	t.Helper()
	h, err := payment.EncodePaymentHeader(pl)
	if err != nil {
		t.Fatalf("encode payment header: %v", err)
	}
	return h
}
