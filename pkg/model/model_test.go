package model

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestPaymentAuthorization_ValidAt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name        string
		after       int64
		before      int64
		wantValid   bool
		wantExpired bool
	}{
		{"inside window", 1_699_999_000, 1_700_001_000, true, false},
		{"at lower bound", 1_700_000_000, 1_700_001_000, true, false},
		{"at upper bound", 1_699_999_000, 1_700_000_000, true, false},
		{"not yet valid", 1_700_000_001, 1_700_001_000, false, false},
		{"expired", 1_699_990_000, 1_699_999_999, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &PaymentAuthorization{
				ValidAfter:  big.NewInt(tt.after),
				ValidBefore: big.NewInt(tt.before),
			}
			if got := a.ValidAt(now); got != tt.wantValid {
				t.Fatalf("ValidAt() = %v, want %v", got, tt.wantValid)
			}
			if got := a.Expired(now); got != tt.wantExpired {
				t.Fatalf("Expired() = %v, want %v", got, tt.wantExpired)
			}
		})
	}

	if (&PaymentAuthorization{}).ValidAt(now) {
		t.Fatal("authorization without a window must not be valid")
	}
}

func TestPaymentAuthorization_NonceHex(t *testing.T) {
	var a PaymentAuthorization
	a.Nonce[31] = 0xab
	want := "0x00000000000000000000000000000000000000000000000000000000000000ab"
	if got := a.NonceHex(); got != want {
		t.Fatalf("NonceHex() = %s", got)
	}
}

func TestNewFlowPermissions(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		p := NewFlowPermissions(uint8(mask), nil)
		if p.HasPermissions != (mask == 7) {
			t.Fatalf("mask %d: HasPermissions = %v", mask, p.HasPermissions)
		}
		if p.FlowRateAllowance == nil || p.FlowRateAllowance.Sign() != 0 {
			t.Fatalf("mask %d: expected zero allowance", mask)
		}
	}
}

func TestStreamOutcome(t *testing.T) {
	tx := common.HexToHash("0x01")
	tests := []struct {
		name    string
		outcome StreamOutcome
		want    string
	}{
		{"not requested", NotRequested(), `{"status":"not_requested"}`},
		{"created", Created(tx), `{"status":"created","txHash":"` + tx.Hex() + `"}`},
		{"permission denied", PermissionDenied(), `{"status":"permission_denied"}`},
		{"failed", Failed("reverted"), `{"status":"failed","reason":"reverted"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.outcome)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tt.want {
				t.Fatalf("got %s want %s", b, tt.want)
			}
			if tt.outcome.IsCreated() != (tt.outcome.Status == StreamCreated) {
				t.Fatal("IsCreated mismatch")
			}
		})
	}
}

func TestSettlementResult(t *testing.T) {
	var r SettlementResult
	if r.LastTx() != nil {
		t.Fatal("expected nil LastTx for empty result")
	}
	a, b := common.HexToHash("0xa"), common.HexToHash("0xb")
	r.Record(a)
	r.Record(b)
	if len(r.Transactions) != 2 || *r.LastTx() != b {
		t.Fatalf("unexpected transactions %v", r.Transactions)
	}
	if r.StreamTxHash() != nil {
		t.Fatal("expected no stream hash")
	}
	r.Stream = Created(b)
	if got := r.StreamTxHash(); got == nil || *got != b {
		t.Fatalf("StreamTxHash() = %v", got)
	}
}

func TestWrapResult(t *testing.T) {
	if _, ok := (WrapResult{}).Final(); ok {
		t.Fatal("expected no final hash")
	}
	w := WrapResult{Mode: WrapFallback, TxHashes: []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")}}
	if h, ok := w.Final(); !ok || h != common.HexToHash("0x2") {
		t.Fatalf("Final() = %s", h.Hex())
	}
	if WrapDirect.String() != "direct" || WrapFallback.String() != "fallback" {
		t.Fatal("unexpected WrapMode names")
	}
}
