package facilitator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/super-x402/facilitator/pkg/model"
	"github.com/super-x402/facilitator/pkg/payment"
	"go.uber.org/zap"
)

// Execute moves the funds of a verified authorization: transfer the gross
// amount to the operator, make sure the super token may pull the net amount,
// wrap it to the payer, and optionally open a stream. Steps run strictly in
// order and each waits for its receipt.
//
// A transfer that was never broadcast leaves the result empty. Any other
// failure keeps every hash produced so far and names the failing stage.
// Stream problems never fail the settlement; they are reported through the
// StreamOutcome and StreamErr.
func (f *Facilitator) Execute(ctx context.Context, v *Verified, stream *StreamRequest) *model.SettlementResult {
	payer := v.Auth.From
	log := zap.L().With(zap.String("payer", payer.Hex()))
	res := &model.SettlementResult{
		Payer:   payer,
		Fee:     v.Fee,
		Wrapped: v.Net,
		Stream:  model.NotRequested(),
	}

	log.Info("Settling payment",
		zap.String("gross", v.Auth.Value.String()),
		zap.String("grossFormatted", f.fees.FormatUnderlying(v.Auth.Value)),
		zap.String("fee", v.Fee.String()),
		zap.String("net", v.Net.String()))

	tx, err := f.gw.TransferWithAuthorization(ctx, v.Auth)
	if tx != (common.Hash{}) {
		res.Record(tx)
	}
	if err != nil {
		return fail(res, StageTransfer, err)
	}
	log.Info("transferWithAuthorization confirmed", zap.String("txHash", tx.Hex()))

	if v.Net.Sign() > 0 {
		approval, err := f.gw.EnsureAllowance(ctx, f.superToken, v.Net)
		if approval != nil {
			res.Record(*approval)
		}
		if err != nil {
			return fail(res, StageApprove, err)
		}

		wrapped, err := f.gw.Wrap(ctx, payer, f.fees.ToSuperUnits(v.Net))
		res.WrapMode = wrapped.Mode
		res.Record(wrapped.TxHashes...)
		if err != nil {
			return fail(res, StageWrap, err)
		}
		log.Info("Wrapped to super token",
			zap.Stringer("mode", wrapped.Mode),
			zap.String("wrappedFormatted", f.fees.FormatUnderlying(v.Net)),
			zap.Int("txs", len(wrapped.TxHashes)))
	}

	res.Success = true
	if stream != nil {
		res.Stream = f.openStream(ctx, payer, stream, res)
	}
	return res
}

func (f *Facilitator) openStream(ctx context.Context, payer common.Address, s *StreamRequest, res *model.SettlementResult) model.StreamOutcome {
	log := zap.L().With(zap.String("payer", payer.Hex()), zap.String("recipient", s.Recipient.Hex()))

	perms, err := f.gw.CheckFlowPermissions(ctx, payer, f.operator)
	if err != nil {
		res.StreamErr = NewError(CodeServerError, StageStream, "flow permission check failed", err)
		log.Warn("Stream permission check failed", zap.Error(err))
		return model.Failed(err.Error())
	}
	if !perms.HasPermissions {
		res.StreamErr = NewError(CodeInsufficientPermissions, StageStream,
			fmt.Sprintf("facilitator is not a full flow operator (permissions %d)", perms.Permissions), nil)
		log.Info("Facilitator lacks flow operator permissions",
			zap.String("operator", f.operator.Hex()),
			zap.Uint8("permissions", perms.Permissions))
		return model.PermissionDenied()
	}

	tx, err := f.gw.CreateFlow(ctx, payer, s.Recipient, s.FlowRate)
	if tx != (common.Hash{}) {
		res.Record(tx)
	}
	if err != nil {
		res.StreamErr = chainError(StageStream, err)
		log.Warn("Stream creation failed", zap.String("code", string(CodeOf(res.StreamErr))), zap.Error(err))
		return model.Failed(err.Error())
	}
	log.Info("Created stream", zap.String("flowRate", s.FlowRate.String()), zap.String("txHash", tx.Hex()))
	return model.Created(tx)
}

func fail(res *model.SettlementResult, stage string, err error) *model.SettlementResult {
	res.Stage = stage
	res.Err = chainError(stage, err)
	zap.L().Error("Settlement failed",
		zap.String("stage", stage),
		zap.Int("confirmedTxs", len(res.Transactions)),
		zap.Error(err))
	return res
}

// Pay verifies an X-PAYMENT value and settles it. Verification failures
// return a nil result. Settlement failures return the partial result along
// with its error.
func (f *Facilitator) Pay(ctx context.Context, header string, stream *StreamRequest) (*model.SettlementResult, error) {
	v, err := f.Check(payment.X402Version, header)
	f.observeVerification(err)
	if err != nil {
		return nil, err
	}
	res := f.Execute(ctx, v, stream)
	f.observeSettlement(PathResource, res)
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}

// Settle implements POST /settle. The stream, if any, comes from
// paymentRequirements.extra.stream.
func (f *Facilitator) Settle(ctx context.Context, req *payment.SettleRequest) *payment.SettleResponse {
	v, err := f.Check(req.X402Version, req.PaymentHeader)
	if err == nil {
		err = checkRequirements(v, req.PaymentRequirements)
	}
	f.observeVerification(err)
	if err != nil {
		reason := reasonOf(err)
		return &payment.SettleResponse{Success: false, Error: &reason}
	}

	res := f.Execute(ctx, v, streamFromRequirements(req.PaymentRequirements))
	f.observeSettlement(PathSettle, res)
	return f.settleResponse(res)
}

func (f *Facilitator) settleResponse(res *model.SettlementResult) *payment.SettleResponse {
	network := f.cfg.Network.Name
	out := &payment.SettleResponse{
		Success:      res.Success,
		TxHash:       res.LastTx(),
		NetworkID:    &network,
		Transactions: res.Transactions,
	}
	if !res.Success {
		msg := fmt.Sprintf("Settlement failed: %s", reasonOf(res.Err))
		out.Error = &msg
		out.Stage = res.Stage
		return out
	}

	created := res.Stream.IsCreated()
	stream := res.Stream
	out.Fee = res.Fee.String()
	out.Wrapped = res.Wrapped.String()
	if res.Wrapped.Sign() > 0 {
		out.WrapMode = res.WrapMode.String()
	}
	out.StreamCreated = &created
	out.StreamTxHash = res.StreamTxHash()
	out.StreamOutcome = &stream
	return out
}

// streamFromRequirements reads the stream terms a client echoed back. Terms
// that do not parse are ignored.
func streamFromRequirements(req *payment.PaymentRequirements) *StreamRequest {
	if req == nil || req.Extra == nil || req.Extra.Stream == nil {
		return nil
	}
	terms := req.Extra.Stream
	if !common.IsHexAddress(terms.Recipient) {
		zap.L().Warn("Ignoring stream terms with invalid recipient", zap.String("recipient", terms.Recipient))
		return nil
	}
	rate, ok := terms.FlowRate.Big()
	if !ok || rate.Sign() <= 0 {
		zap.L().Warn("Ignoring stream terms with invalid flow rate", zap.String("flowRate", string(terms.FlowRate)))
		return nil
	}
	return &StreamRequest{Recipient: common.HexToAddress(terms.Recipient), FlowRate: rate}
}

func (f *Facilitator) observeSettlement(path string, res *model.SettlementResult) {
	if f.rec != nil {
		f.rec.ObserveSettlement(path, res)
	}
}
