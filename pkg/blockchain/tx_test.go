package blockchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestGetTransactOpts(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	opts, err := GetTransactOpts(big.NewInt(8453), priv)
	if err != nil {
		t.Fatalf("GetTransactOpts failed: %v", err)
	}
	if opts.From != crypto.PubkeyToAddress(priv.PublicKey) {
		t.Fatalf("unexpected From address: got %s, want %s",
			opts.From.Hex(),
			crypto.PubkeyToAddress(priv.PublicKey).Hex())
	}
}

func TestGetTransactOpts_NilKey(t *testing.T) {
	opts, err := GetTransactOpts(big.NewInt(8453), nil)
	if err == nil {
		t.Fatal("expected error for nil private key")
	}
	if opts != nil {
		t.Fatal("expected nil opts")
	}
}

func TestGetTransactOpts_NilChainID(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	opts, err := GetTransactOpts(nil, priv)
	if err == nil {
		t.Fatal("expected error for nil chainID")
	}
	if opts != nil {
		t.Fatal("expected nil opts on error")
	}
}

type scriptedReceipts struct {
	calls   int
	results []func() (*types.Receipt, error)
}

func (s *scriptedReceipts) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i]()
}

func TestWaitForReceipt(t *testing.T) {
	notFound := func() (*types.Receipt, error) { return nil, ethereum.NotFound }
	pending := func() (*types.Receipt, error) { return nil, nil }
	mined := func() (*types.Receipt, error) { return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil }
	failed := func() (*types.Receipt, error) { return &types.Receipt{Status: types.ReceiptStatusFailed}, nil }
	broken := func() (*types.Receipt, error) { return nil, errors.New("connection reset") }

	tests := []struct {
		name    string
		results []func() (*types.Receipt, error)
		wantErr error
		calls   int
	}{
		{"mined after retries", []func() (*types.Receipt, error){notFound, pending, mined}, nil, 3},
		{"reverted", []func() (*types.Receipt, error){notFound, failed}, ErrChainRejected, 2},
		{"rpc error", []func() (*types.Receipt, error){broken}, nil, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &scriptedReceipts{results: tc.results}
			r, err := waitForReceipt(context.Background(), src, common.Hash{1}, time.Millisecond, 2*time.Millisecond)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.name == "rpc error":
				if err == nil {
					t.Fatal("expected rpc error")
				}
			default:
				if err != nil || r == nil {
					t.Fatalf("expected receipt, got %v, %v", r, err)
				}
			}
			if src.calls != tc.calls {
				t.Fatalf("expected %d polls, got %d", tc.calls, src.calls)
			}
		})
	}
}

func TestWaitForReceipt_ContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	src := &scriptedReceipts{results: []func() (*types.Receipt, error){
		func() (*types.Receipt, error) { return nil, ethereum.NotFound },
	}}
	_, err := waitForReceipt(ctx, src, common.Hash{1}, time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestSend_ReceiptTimeout(t *testing.T) {
	e, backend := newTestClient(t)
	backend.noReceipt = true
	e.timeouts.ReceiptWait = 30 * time.Millisecond

	obs := &recordingObserver{}
	e.observer = obs

	h, err := e.CreateFlow(context.Background(), payer, payee, big.NewInt(1))
	if !errors.Is(err, ErrChainTimeout) {
		t.Fatalf("expected ErrChainTimeout, got %v", err)
	}
	if h == (common.Hash{}) {
		t.Fatal("broadcast hash must be returned on timeout")
	}
	if len(obs.methods) != 1 || obs.methods[0] != "setFlowrateFrom" || obs.errs[0] == nil {
		t.Fatalf("observer not notified: %+v", obs)
	}
}

func TestSend_WaitIgnoresCallerCancel(t *testing.T) {
	e, backend := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.afterSend = cancel

	if _, err := e.CreateFlow(ctx, payer, payee, big.NewInt(1)); err != nil {
		t.Fatalf("receipt wait must survive caller cancellation: %v", err)
	}
}

type recordingObserver struct {
	methods []string
	errs    []error
}

func (r *recordingObserver) ObserveTx(method string, _ time.Duration, err error) {
	r.methods = append(r.methods, method)
	r.errs = append(r.errs, err)
}
