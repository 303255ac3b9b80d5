package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/super-x402/facilitator/pkg/model"
	"go.uber.org/zap"
)

// CheckFlowPermissions reads the flow operator permissions payer granted to
// operator on the super token through the CFA.
func (e *EVMClient) CheckFlowPermissions(ctx context.Context, payer, operator common.Address) (model.FlowPermissions, error) {
	out, err := e.read(ctx, e.cfa, "getFlowOperatorData", e.addrs.SuperToken, payer, operator)
	if err != nil {
		return model.FlowPermissions{}, err
	}
	if len(out) < 3 {
		return model.FlowPermissions{}, fmt.Errorf("read getFlowOperatorData: expected 3 outputs, got %d", len(out))
	}
	mask, ok := out[1].(uint8)
	if !ok {
		return model.FlowPermissions{}, fmt.Errorf("read getFlowOperatorData: unexpected permissions type %T", out[1])
	}
	allowance, ok := out[2].(*big.Int)
	if !ok {
		return model.FlowPermissions{}, fmt.Errorf("read getFlowOperatorData: unexpected allowance type %T", out[2])
	}
	return model.NewFlowPermissions(mask, allowance), nil
}

// GetFlowRate returns the current flow rate from sender to receiver on the
// super token. Absent or negative flows read as zero.
func (e *EVMClient) GetFlowRate(ctx context.Context, sender, receiver common.Address) (*big.Int, error) {
	rate, err := e.readBig(ctx, e.forwarder, "getFlowrate", e.addrs.SuperToken, sender, receiver)
	if err != nil {
		return nil, err
	}
	if rate.Sign() < 0 {
		return new(big.Int), nil
	}
	return rate, nil
}

// CreateFlow sets the flow from sender to receiver to rate (super token units
// per second) through the CFA forwarder, acting as sender's flow operator.
func (e *EVMClient) CreateFlow(ctx context.Context, sender, receiver common.Address, rate *big.Int) (common.Hash, error) {
	if sender == receiver {
		return common.Hash{}, ErrSelfStream
	}
	if rate == nil || rate.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%w: flow rate must be positive", ErrChainRejected)
	}
	zap.L().Debug("Creating flow",
		zap.String("sender", sender.Hex()),
		zap.String("receiver", receiver.Hex()),
		zap.String("flowRate", rate.String()))
	return e.send(ctx, e.forwarder, "setFlowrateFrom", e.addrs.SuperToken, sender, receiver, rate)
}
