package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/super-x402/facilitator/pkg/fee"
	"github.com/super-x402/facilitator/pkg/model"
	"github.com/super-x402/facilitator/pkg/payment"
	"go.uber.org/zap"
)

// Verified is an authorization that passed every off-chain check, together
// with its fee split. Net is in underlying units.
type Verified struct {
	Payload *payment.PaymentPayload
	Auth    *model.PaymentAuthorization
	Net     *big.Int
	Fee     *big.Int
}

// Check runs the off-chain checks on an X-PAYMENT value in order: protocol
// version, envelope decoding, scheme, network, required fields, payee,
// validity window, signature and amount. It never touches the chain.
//
// The envelope's own x402Version may be omitted (0) or 1.
func (f *Facilitator) Check(version int, header string) (*Verified, error) {
	if version != payment.X402Version {
		return nil, NewError(CodeUnsupportedVersion, StageDecode, "Unsupported x402 version", nil)
	}

	p, err := payment.DecodeEnvelope(header)
	if err != nil {
		return nil, NewError(CodeMalformedPayload, StageDecode, "Invalid payment header format", err)
	}
	if p.X402Version != 0 && p.X402Version != payment.X402Version {
		return nil, NewError(CodeUnsupportedVersion, StageDecode, "Unsupported x402 version", nil)
	}
	if p.Scheme != payment.SchemeExact {
		return nil, NewError(CodeUnsupportedScheme, StageDecode, "Unsupported payment scheme (expected 'exact')", nil)
	}
	if p.Network != f.cfg.Network.Name {
		return nil, NewError(CodeUnsupportedNetwork, StageDecode, "Unsupported network", nil)
	}

	auth, err := p.Authorization()
	switch {
	case errors.Is(err, payment.ErrMissingField):
		return nil, NewError(CodeMissingField, StageDecode, "Missing required payload fields", err)
	case err != nil:
		return nil, NewError(CodeMalformedPayload, StageDecode, "Invalid payment payload", err)
	}

	if auth.To != f.operator {
		return nil, NewError(CodeInvalidPayee, StageVerify,
			fmt.Sprintf("Authorization must pay the facilitator %s", f.operator.Hex()), nil)
	}
	if auth.Account != auth.From {
		return nil, NewError(CodeInvalidPayee, StageVerify, "Payload account does not match authorization sender", nil)
	}

	now := f.now()
	if auth.Expired(now) {
		return nil, NewError(CodeAuthorizationExpired, StageVerify, "Authorization expired", nil)
	}
	if !auth.ValidAt(now) {
		return nil, NewError(CodeAuthorizationExpired, StageVerify, "Authorization not yet valid", nil)
	}

	if err := payment.VerifyAuthorization(auth, f.domain); err != nil {
		return nil, NewError(CodeInvalidSignature, StageVerify, "Invalid signature", err)
	}

	net, feeAmount, err := f.fees.Split(auth.Value)
	if errors.Is(err, fee.ErrAmountBelowFee) {
		return nil, NewError(CodeInsufficientAmount, StageVerify,
			fmt.Sprintf("Amount below minimum fee of %s", f.fees.MinFee()), err)
	}
	if err != nil {
		return nil, NewError(CodeServerError, StageVerify, "Fee computation failed", err)
	}

	return &Verified{Payload: p, Auth: auth, Net: net, Fee: feeAmount}, nil
}

// checkRequirements rejects an authorization that pays less than the
// requirements it claims to satisfy.
func checkRequirements(v *Verified, req *payment.PaymentRequirements) error {
	if req == nil {
		return nil
	}
	want, ok := req.MaxAmountRequired.Big()
	if !ok {
		return nil
	}
	if v.Auth.Value.Cmp(want) < 0 {
		return NewError(CodeInsufficientAmount, StageVerify,
			fmt.Sprintf("Authorized %s is below the required %s", v.Auth.Value, want), nil)
	}
	return nil
}

// Verify implements POST /verify.
func (f *Facilitator) Verify(_ context.Context, req *payment.VerifyRequest) *payment.VerifyResponse {
	v, err := f.Check(req.X402Version, req.PaymentHeader)
	if err == nil {
		err = checkRequirements(v, req.PaymentRequirements)
	}
	if err != nil {
		f.observeVerification(err)
		zap.L().Info("Payment rejected", zap.String("code", string(CodeOf(err))), zap.Error(err))
		reason := reasonOf(err)
		return &payment.VerifyResponse{IsValid: false, InvalidReason: &reason}
	}

	f.observeVerification(nil)
	zap.L().Debug("Payment verified",
		zap.String("payer", v.Auth.From.Hex()),
		zap.String("value", v.Auth.Value.String()),
		zap.String("fee", v.Fee.String()))
	return &payment.VerifyResponse{IsValid: true, Payer: v.Auth.From.Hex()}
}

func (f *Facilitator) observeVerification(err error) {
	if f.rec == nil {
		return
	}
	if err == nil {
		f.rec.ObserveVerification("")
		return
	}
	f.rec.ObserveVerification(string(CodeOf(err)))
}

// reasonOf returns the client-facing message of err.
func reasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "Server error"
}
