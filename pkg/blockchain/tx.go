package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// GetTransactOpts creates a transactor bound to the given chainID and ECDSA key.
// The returned TransactOpts can be used to send transactions to the blockchain.
func GetTransactOpts(chainID *big.Int, pk *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	if pk == nil {
		return nil, errors.New("private key is required for transactions")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		zap.L().Error("failed to create transactor", zap.Error(err))
		return nil, err
	}
	return opts, nil
}

// send signs and broadcasts method on contract as the operator and waits for
// the receipt. The returned hash is non-zero whenever the transaction was
// broadcast, even if waiting for it failed.
func (e *EVMClient) send(ctx context.Context, contract *bind.BoundContract, method string, args ...any) (common.Hash, error) {
	start := time.Now()

	tx, err := e.broadcast(ctx, contract, method, args...)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrChainRejected, method, err)
		e.observe(method, start, err)
		return common.Hash{}, err
	}

	zap.L().Debug("Transaction sent", zap.String("method", method), zap.String("txHash", tx.Hash().Hex()))

	_, err = e.waitMined(ctx, tx.Hash())
	e.observe(method, start, err)
	if err != nil {
		return tx.Hash(), fmt.Errorf("%s: %w", method, err)
	}
	return tx.Hash(), nil
}

func (e *EVMClient) broadcast(ctx context.Context, contract *bind.BoundContract, method string, args ...any) (*types.Transaction, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	sendCtx, cancel := withTimeout(ctx, e.timeouts.ChainSubmit)
	defer cancel()

	opts := *e.auth
	opts.Context = sendCtx
	return contract.Transact(&opts, method, args...)
}

// waitMined polls for a transaction receipt with exponential backoff. The wait
// ignores ctx cancellation and is bounded by Timeouts.ReceiptWait.
func (e *EVMClient) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := withTimeout(context.WithoutCancel(ctx), e.timeouts.ReceiptWait)
	defer cancel()

	receipt, err := waitForReceipt(waitCtx, e.Client, txHash, e.pollInterval, e.maxBackoff)
	switch {
	case err == nil:
		return receipt, nil
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %s", ErrChainTimeout, txHash.Hex())
	default:
		return nil, err
	}
}

type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// waitForReceipt polls for a transaction receipt with exponential backoff,
// until receipt is available, context is done, or an error occurs. If maxBackoff
// is non-zero, backoff will not exceed it. It returns ErrChainRejected if the tx is reverted.
func waitForReceipt(ctx context.Context, client receiptReader, txHash common.Hash, backoff, maxBackoff time.Duration) (*types.Receipt, error) {
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, fmt.Errorf("%w: tx reverted: %s", ErrChainRejected, txHash.Hex())
			}
			return receipt, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
			backoff *= 2
			if maxBackoff > 0 && backoff > maxBackoff {
				backoff = maxBackoff
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("receipt error: %w", err)
		}
	}
}

func (e *EVMClient) observe(method string, start time.Time, err error) {
	if e.observer != nil {
		e.observer.ObserveTx(method, time.Since(start), err)
	}
}
