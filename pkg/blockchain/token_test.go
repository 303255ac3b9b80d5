package blockchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/super-x402/facilitator/pkg/model"
)

var (
	payer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	payee = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func testAuthorization() *model.PaymentAuthorization {
	sig := make([]byte, 65)
	sig[0], sig[32], sig[64] = 1, 2, 27
	return &model.PaymentAuthorization{
		From:        payer,
		To:          payee,
		Value:       big.NewInt(1_100_000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(time.Now().Add(time.Hour).Unix()),
		Nonce:       [32]byte{9},
		Signature:   sig,
		Account:     payer,
	}
}

func TestTransferWithAuthorization(t *testing.T) {
	e, backend := newTestClient(t)

	h, err := e.TransferWithAuthorization(context.Background(), testAuthorization())
	if err != nil {
		t.Fatalf("TransferWithAuthorization: %v", err)
	}
	if h == (common.Hash{}) {
		t.Fatal("expected tx hash")
	}
	if got := backend.sentMethods(); !equalStrings(got, []string{"usdc.transferWithAuthorization"}) {
		t.Fatalf("unexpected txs %v", got)
	}
}

func TestTransferWithAuthorization_Reverted(t *testing.T) {
	e, backend := newTestClient(t)
	backend.reverted["usdc.transferWithAuthorization"] = true

	h, err := e.TransferWithAuthorization(context.Background(), testAuthorization())
	if !errors.Is(err, ErrChainRejected) {
		t.Fatalf("expected ErrChainRejected, got %v", err)
	}
	if h == (common.Hash{}) {
		t.Fatal("a mined-but-reverted tx still has a hash")
	}
}

func TestTransferWithAuthorization_BadSignature(t *testing.T) {
	e, backend := newTestClient(t)
	auth := testAuthorization()
	auth.Signature = auth.Signature[:10]

	if _, err := e.TransferWithAuthorization(context.Background(), auth); !errors.Is(err, ErrChainRejected) {
		t.Fatalf("expected ErrChainRejected, got %v", err)
	}
	if len(backend.sentMethods()) != 0 {
		t.Fatal("nothing must be broadcast")
	}
}

func TestEnsureAllowance(t *testing.T) {
	tests := []struct {
		name      string
		allowance *big.Int
		wantTx    bool
	}{
		{"sufficient", big.NewInt(5_000_000), false},
		{"exact", big.NewInt(1_000_000), false},
		{"short", big.NewInt(999_999), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, backend := newTestClient(t)
			backend.onRead("usdc.allowance", func(args []any) ([]any, error) {
				if args[0].(common.Address) != e.Operator() || args[1].(common.Address) != e.Addresses().SuperToken {
					t.Errorf("unexpected allowance args %v", args)
				}
				return []any{tc.allowance}, nil
			})

			h, err := e.EnsureAllowance(context.Background(), e.Addresses().SuperToken, big.NewInt(1_000_000))
			if err != nil {
				t.Fatalf("EnsureAllowance: %v", err)
			}
			if (h != nil) != tc.wantTx {
				t.Fatalf("approval tx = %v, want %v", h, tc.wantTx)
			}
			if tc.wantTx && !equalStrings(backend.sentMethods(), []string{"usdc.approve"}) {
				t.Fatalf("unexpected txs %v", backend.sentMethods())
			}
		})
	}
}

func TestWrap_Direct(t *testing.T) {
	e, backend := newTestClient(t)
	backend.onRead("usdcx.upgradeTo", func([]any) ([]any, error) { return nil, nil })

	res, err := e.Wrap(context.Background(), payee, big.NewInt(1e18))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if res.Mode != model.WrapDirect || len(res.TxHashes) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !equalStrings(backend.sentMethods(), []string{"usdcx.upgradeTo"}) {
		t.Fatalf("unexpected txs %v", backend.sentMethods())
	}
}

func TestWrap_Fallback(t *testing.T) {
	e, backend := newTestClient(t)

	res, err := e.Wrap(context.Background(), payee, big.NewInt(1e18))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if res.Mode != model.WrapFallback || len(res.TxHashes) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !equalStrings(backend.sentMethods(), []string{"usdcx.upgrade", "usdcx.transfer"}) {
		t.Fatalf("unexpected txs %v", backend.sentMethods())
	}
	final, ok := res.Final()
	if !ok || final != res.TxHashes[1] {
		t.Fatalf("final hash must be the transfer")
	}
}

func TestWrap_FallbackPartialFailure(t *testing.T) {
	e, backend := newTestClient(t)
	backend.reverted["usdcx.transfer"] = true

	res, err := e.Wrap(context.Background(), payee, big.NewInt(1e18))
	if !errors.Is(err, ErrChainRejected) {
		t.Fatalf("expected ErrChainRejected, got %v", err)
	}
	if len(res.TxHashes) != 2 {
		t.Fatalf("both broadcast hashes must be kept, got %d", len(res.TxHashes))
	}
}

func TestWrap_UpgradeNotBroadcast(t *testing.T) {
	e, backend := newTestClient(t)
	backend.sendErr["usdcx.upgrade"] = errors.New("insufficient funds for gas")

	res, err := e.Wrap(context.Background(), payee, big.NewInt(1e18))
	if !errors.Is(err, ErrChainRejected) {
		t.Fatalf("expected ErrChainRejected, got %v", err)
	}
	if len(res.TxHashes) != 0 {
		t.Fatalf("no hash expected, got %v", res.TxHashes)
	}
	if len(backend.sentMethods()) != 0 {
		t.Fatal("transfer must not follow a failed upgrade")
	}
}

func TestBalances(t *testing.T) {
	e, backend := newTestClient(t)
	backend.onRead("usdc.balanceOf", func([]any) ([]any, error) { return []any{big.NewInt(2_500_000)}, nil })
	backend.onRead("usdcx.balanceOf", func([]any) ([]any, error) { return []any{big.NewInt(7)}, nil })

	b, err := e.Balances(context.Background(), payer)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if b.Underlying.Int64() != 2_500_000 || b.Super.Int64() != 7 {
		t.Fatalf("unexpected balances %+v", b)
	}

	backend.onRead("usdcx.balanceOf", func([]any) ([]any, error) { return nil, errReverted })
	if _, err := e.Balances(context.Background(), payer); err == nil {
		t.Fatal("expected error when one read fails")
	}
}
