package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/super-x402/facilitator/pkg/model"
	"github.com/super-x402/facilitator/pkg/payment"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TransferWithAuthorization submits the payer's signed EIP-3009 transfer and
// waits for it to be mined.
func (e *EVMClient) TransferWithAuthorization(ctx context.Context, auth *model.PaymentAuthorization) (common.Hash, error) {
	r, s, v, err := payment.SplitSignatureBytes(auth.Signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrChainRejected, err)
	}
	return e.send(ctx, e.underlying, "transferWithAuthorization",
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce, v, r, s)
}

// Allowance returns the underlying token allowance from the operator to spender.
func (e *EVMClient) Allowance(ctx context.Context, spender common.Address) (*big.Int, error) {
	return e.readBig(ctx, e.underlying, "allowance", e.operator, spender)
}

// EnsureAllowance makes sure spender may pull amount of the underlying token
// from the operator. When the allowance is short it approves the maximum
// uint256 and returns the approval hash; otherwise it returns nil.
func (e *EVMClient) EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) (*common.Hash, error) {
	allowance, err := e.Allowance(ctx, spender)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil, nil
	}

	zap.L().Debug("Approving super token", zap.String("spender", spender.Hex()), zap.String("allowance", allowance.String()))
	h, err := e.send(ctx, e.underlying, "approve", spender, maxUint256)
	if h == (common.Hash{}) {
		return nil, err
	}
	return &h, err
}

// Wrap delivers amount super tokens (super token units) to recipient. When an
// eth_call of upgradeTo succeeds the direct entrypoint is used; otherwise the
// operator upgrades to itself and transfers. Hashes of transactions broadcast
// before a failure are returned along with the error.
func (e *EVMClient) Wrap(ctx context.Context, recipient common.Address, amount *big.Int) (model.WrapResult, error) {
	err := e.preflight(ctx, SuperTokenABI, e.addrs.SuperToken, "upgradeTo", recipient, amount, []byte{})
	if err == nil {
		res := model.WrapResult{Mode: model.WrapDirect}
		h, err := e.send(ctx, e.super, "upgradeTo", recipient, amount, []byte{})
		res.TxHashes = appendHash(res.TxHashes, h)
		return res, err
	}
	zap.L().Debug("upgradeTo preflight failed, using upgrade and transfer", zap.Error(err))

	res := model.WrapResult{Mode: model.WrapFallback}
	h, err := e.send(ctx, e.super, "upgrade", amount)
	res.TxHashes = appendHash(res.TxHashes, h)
	if err != nil {
		return res, err
	}
	h, err = e.send(ctx, e.super, "transfer", recipient, amount)
	res.TxHashes = appendHash(res.TxHashes, h)
	return res, err
}

// Balances reads the underlying and super token balances of account in parallel.
func (e *EVMClient) Balances(ctx context.Context, account common.Address) (model.Balances, error) {
	var out model.Balances
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.readBig(gctx, e.underlying, "balanceOf", account)
		out.Underlying = v
		return err
	})
	g.Go(func() error {
		v, err := e.readBig(gctx, e.super, "balanceOf", account)
		out.Super = v
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Balances{}, err
	}
	return out, nil
}

// preflight runs method as an eth_call from the operator and reports whether it would succeed.
func (e *EVMClient) preflight(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...any) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, e.timeouts.ChainRead)
	defer cancel()
	_, err = e.Client.CallContract(ctx, ethereum.CallMsg{From: e.operator, To: &to, Data: data}, nil)
	return err
}

func (e *EVMClient) read(ctx context.Context, contract *bind.BoundContract, method string, args ...any) ([]any, error) {
	ctx, cancel := withTimeout(ctx, e.timeouts.ChainRead)
	defer cancel()
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx, From: e.operator}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("read %s: %w", method, err)
	}
	return out, nil
}

func (e *EVMClient) readBig(ctx context.Context, contract *bind.BoundContract, method string, args ...any) (*big.Int, error) {
	out, err := e.read(ctx, contract, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("read %s: empty result", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("read %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func appendHash(hashes []common.Hash, h common.Hash) []common.Hash {
	if h == (common.Hash{}) {
		return hashes
	}
	return append(hashes, h)
}
