package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/fee"
	"github.com/super-x402/facilitator/pkg/model"
	"github.com/super-x402/facilitator/pkg/payment"
)

// Gateway is the chain access the pipeline needs. *blockchain.EVMClient
// implements it.
type Gateway interface {
	Operator() common.Address
	TransferWithAuthorization(ctx context.Context, auth *model.PaymentAuthorization) (common.Hash, error)
	EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) (*common.Hash, error)
	Wrap(ctx context.Context, recipient common.Address, amount *big.Int) (model.WrapResult, error)
	CheckFlowPermissions(ctx context.Context, payer, operator common.Address) (model.FlowPermissions, error)
	CreateFlow(ctx context.Context, sender, receiver common.Address, rate *big.Int) (common.Hash, error)
	GetFlowRate(ctx context.Context, sender, receiver common.Address) (*big.Int, error)
	Balances(ctx context.Context, account common.Address) (model.Balances, error)
}

// Recorder receives pipeline outcomes. *metrics.Metrics implements it.
type Recorder interface {
	ObserveVerification(code string)
	ObserveSettlement(path string, r *model.SettlementResult)
}

// Settlement paths reported to the Recorder.
const (
	PathResource = "resource"
	PathSettle   = "settle"
)

// StreamRequest asks the pipeline to open a flow from the payer to Recipient
// after the wrap. FlowRate is in super token units per second.
type StreamRequest struct {
	Recipient common.Address
	FlowRate  *big.Int
}

// Option customizes a Facilitator.
type Option func(*Facilitator)

// WithClock overrides time.Now for authorization window checks.
func WithClock(now func() time.Time) Option {
	return func(f *Facilitator) { f.now = now }
}

// WithRecorder registers r for verification and settlement outcomes.
func WithRecorder(r Recorder) Option {
	return func(f *Facilitator) { f.rec = r }
}

// Facilitator runs the verify and settle pipeline for one operator account.
// It holds no per-request state and is safe for concurrent use.
type Facilitator struct {
	cfg        *config.Config
	gw         Gateway
	fees       *fee.Policy
	domain     payment.Domain
	operator   common.Address
	superToken common.Address
	now        func() time.Time
	rec        Recorder
}

// New builds a Facilitator. cfg must already be validated.
func New(cfg *config.Config, gw Gateway, fees *fee.Policy, opts ...Option) (*Facilitator, error) {
	if cfg == nil || gw == nil || fees == nil {
		return nil, errors.New("config, gateway and fee policy are required")
	}
	f := &Facilitator{
		cfg:        cfg,
		gw:         gw,
		fees:       fees,
		domain:     payment.DomainFromConfig(cfg),
		operator:   gw.Operator(),
		superToken: common.HexToAddress(cfg.Contracts.SuperToken.Address),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Operator returns the facilitator operator address.
func (f *Facilitator) Operator() common.Address { return f.operator }

// Fees returns the fee policy in use.
func (f *Facilitator) Fees() *fee.Policy { return f.fees }

// Supported lists the accepted payment kinds.
func (f *Facilitator) Supported() payment.SupportedResponse {
	return payment.SupportedResponse{Kinds: []payment.Kind{{
		X402Version: payment.X402Version,
		Scheme:      payment.SchemeExact,
		Network:     f.cfg.Network.Name,
	}}}
}

// Info describes the facilitator deployment.
func (f *Facilitator) Info() payment.InfoResponse {
	return payment.InfoResponse{
		Facilitator:     f.operator.Hex(),
		Network:         f.cfg.Network.Name,
		ChainID:         f.cfg.Network.ChainID,
		SuperToken:      common.HexToAddress(f.cfg.Contracts.SuperToken.Address).Hex(),
		UnderlyingToken: common.HexToAddress(f.cfg.Contracts.UnderlyingToken.Address).Hex(),
		CFAV1Forwarder:  common.HexToAddress(f.cfg.Contracts.CFAForwarder).Hex(),
		Fee: payment.FeeInfo{
			MinFee:  f.fees.MinFee().String(),
			Divisor: f.cfg.Fee.Divisor,
			Percent: f.cfg.Fee.Percent,
		},
	}
}

// StreamFor returns the stream request for a monthly amount given in
// underlying units.
func (f *Facilitator) StreamFor(recipient common.Address, monthly *big.Int) *StreamRequest {
	rate, _ := f.fees.StreamFlowRate(monthly)
	return &StreamRequest{Recipient: recipient, FlowRate: rate}
}

// Requirements prices a wrap of monthly underlying units plus a stream of
// the same monthly amount to recipient.
func (f *Facilitator) Requirements(resource string, recipient common.Address, monthly *big.Int) (payment.PaymentRequirements, error) {
	if monthly == nil || monthly.Sign() <= 0 {
		return payment.PaymentRequirements{}, NewError(CodeInsufficientAmount, StageVerify, "monthly amount must be positive", nil)
	}
	feeAmount := f.fees.Fee(monthly)
	total := new(big.Int).Add(monthly, feeAmount)
	rate, monthlySuper := f.fees.StreamFlowRate(monthly)

	underlying := f.cfg.Contracts.UnderlyingToken
	return payment.PaymentRequirements{
		Scheme:            payment.SchemeExact,
		Network:           f.cfg.Network.Name,
		MaxAmountRequired: payment.QuantityOf(total),
		Asset:             common.HexToAddress(underlying.Address).Hex(),
		PayTo:             f.operator.Hex(),
		Resource:          resource,
		Description: fmt.Sprintf("Wrap %s %s & start stream to %s (%s %s fee)",
			f.fees.FormatUnderlying(monthly), underlying.Symbol, recipient.Hex(),
			f.fees.FormatUnderlying(feeAmount), underlying.Symbol),
		MimeType:          payment.MimeTypeJSON,
		MaxTimeoutSeconds: payment.MaxTimeoutSeconds,
		Extra: &payment.RequirementsExtra{
			Name:           f.domain.Name,
			Version:        f.domain.Version,
			AutoWrap:       true,
			SuperToken:     f.superToken.Hex(),
			WrapAmount:     payment.QuantityOf(monthly),
			Fee:            payment.QuantityOf(feeAmount),
			Facilitator:    f.operator.Hex(),
			CFAV1Forwarder: common.HexToAddress(f.cfg.Contracts.CFAForwarder).Hex(),
			Stream: &payment.StreamTerms{
				Recipient:     recipient.Hex(),
				MonthlyAmount: payment.QuantityOf(monthlySuper),
				FlowRate:      payment.QuantityOf(rate),
			},
		},
	}, nil
}

// PaymentRequired builds the 402 body for a resource gated on a stream to recipient.
func (f *Facilitator) PaymentRequired(resource string, recipient common.Address, monthly *big.Int) (*payment.PaymentRequired, error) {
	req, err := f.Requirements(resource, recipient, monthly)
	if err != nil {
		return nil, err
	}
	return &payment.PaymentRequired{
		X402Version: payment.X402Version,
		Error:       fmt.Sprintf("Payment required: Must have an active stream to %s", recipient.Hex()),
		Accepts:     []payment.PaymentRequirements{req},
	}, nil
}
