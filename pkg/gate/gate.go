// Package gate guards a resource behind an active stream: a caller streaming
// to the recipient is let through, anyone else is asked to pay for a wrap
// that opens such a stream.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/facilitator"
	"github.com/super-x402/facilitator/pkg/fee"
	"github.com/super-x402/facilitator/pkg/model"
	"github.com/super-x402/facilitator/pkg/payment"
	"go.uber.org/zap"
)

// DefaultMonthlyAmount is 1 USDC per month in underlying units.
const DefaultMonthlyAmount = 1_000_000

// ErrInvalidQuery matches every *QueryError.
var ErrInvalidQuery = errors.New("invalid query")

// QueryError is a rejected query parameter. Message is client facing.
type QueryError struct {
	Field   string
	Message string
}

func (e *QueryError) Error() string { return e.Message }

func (e *QueryError) Is(target error) bool { return target == ErrInvalidQuery }

// Query holds the parameters of a resource request.
type Query struct {
	Account       common.Address
	Recipient     common.Address
	MonthlyAmount *big.Int
}

// ParseQuery validates account, recipient and the optional monthlyAmount,
// a positive base-10 integer in underlying units.
func ParseQuery(v url.Values) (Query, error) {
	var q Query

	account := strings.TrimSpace(v.Get("account"))
	if !common.IsHexAddress(account) {
		return q, &QueryError{Field: "account", Message: "Invalid account"}
	}
	q.Account = common.HexToAddress(account)

	recipient := strings.TrimSpace(v.Get("recipient"))
	if recipient == "" {
		return q, &QueryError{Field: "recipient", Message: "Missing required query parameter: recipient"}
	}
	if !common.IsHexAddress(recipient) {
		return q, &QueryError{Field: "recipient", Message: "Invalid recipient address"}
	}
	q.Recipient = common.HexToAddress(recipient)

	q.MonthlyAmount = big.NewInt(DefaultMonthlyAmount)
	if raw := strings.TrimSpace(v.Get("monthlyAmount")); raw != "" {
		m, ok := new(big.Int).SetString(raw, 10)
		if !ok || m.Sign() <= 0 {
			return q, &QueryError{Field: "monthlyAmount", Message: "Invalid monthlyAmount parameter"}
		}
		q.MonthlyAmount = m
	}
	return q, nil
}

// Pipeline is the part of *facilitator.Facilitator the gate drives.
type Pipeline interface {
	Pay(ctx context.Context, header string, stream *facilitator.StreamRequest) (*model.SettlementResult, error)
	StreamFor(recipient common.Address, monthly *big.Int) *facilitator.StreamRequest
	PaymentRequired(resource string, recipient common.Address, monthly *big.Int) (*payment.PaymentRequired, error)
	Fees() *fee.Policy
}

// Chain reads stream and balance state.
type Chain interface {
	GetFlowRate(ctx context.Context, sender, receiver common.Address) (*big.Int, error)
	Balances(ctx context.Context, account common.Address) (model.Balances, error)
}

// Outcome tells how a request was resolved.
type Outcome int

const (
	// Entitled means an active stream already flows to the recipient.
	Entitled Outcome = iota
	// Settled means the attached payment was settled.
	Settled
	// Challenged means no stream exists and no payment was attached.
	Challenged
)

// Decision is the result of Evaluate. Only the fields of its Outcome are set.
type Decision struct {
	Outcome Outcome
	Account common.Address

	FlowRate *big.Int

	Settlement   *model.SettlementResult
	SuperBalance *big.Int

	Challenge *payment.PaymentRequired
}

// Message renders the client message for Entitled and Settled decisions.
func (d *Decision) Message(cfg *config.Config, fees *fee.Policy, recipient common.Address) string {
	switch d.Outcome {
	case Entitled:
		return fmt.Sprintf("Access granted! You have an active stream to %s", recipient.Hex())
	case Settled:
		underlying := cfg.Contracts.UnderlyingToken.Symbol
		super := cfg.Contracts.SuperToken.Symbol
		wrapped := fees.FormatUnderlying(d.Settlement.Wrapped)
		paid := fees.FormatUnderlying(d.Settlement.Fee)
		if d.Settlement.Stream.IsCreated() {
			return fmt.Sprintf("Access granted! Wrapped %s %s to %s and created stream (fee: %s %s)",
				wrapped, underlying, super, paid, underlying)
		}
		return fmt.Sprintf("Access granted! Wrapped %s %s to %s (fee: %s %s)",
			wrapped, underlying, super, paid, underlying)
	}
	return ""
}

// Gate resolves resource requests.
type Gate struct {
	pipeline Pipeline
	chain    Chain
}

// New returns a Gate.
func New(p Pipeline, chain Chain) *Gate {
	return &Gate{pipeline: p, chain: chain}
}

// Evaluate resolves one request for resource. With a payment header the
// payment is settled and the stream to q.Recipient requested; the payer is
// the authorization signer, not q.Account. Without one the caller is
// entitled when a stream from q.Account to q.Recipient flows, and challenged
// otherwise.
//
// A failed settlement returns the partial Decision together with the error.
func (g *Gate) Evaluate(ctx context.Context, resource string, q Query, paymentHeader string) (*Decision, error) {
	if paymentHeader != "" {
		return g.settle(ctx, q, paymentHeader)
	}

	log := zap.L().With(zap.String("account", q.Account.Hex()), zap.String("recipient", q.Recipient.Hex()))

	if q.Account == q.Recipient {
		return nil, facilitator.NewError(facilitator.CodeSelfStream, facilitator.StageVerify,
			"Cannot create stream to yourself", nil)
	}

	rate, err := g.chain.GetFlowRate(ctx, q.Account, q.Recipient)
	if err != nil {
		return nil, fmt.Errorf("read flow rate: %w", err)
	}
	if rate.Sign() > 0 {
		log.Info("Existing stream found, granting access", zap.String("flowRate", rate.String()))
		return &Decision{Outcome: Entitled, Account: q.Account, FlowRate: rate}, nil
	}

	challenge, err := g.pipeline.PaymentRequired(resource, q.Recipient, q.MonthlyAmount)
	if err != nil {
		return nil, err
	}
	log.Info("Returning payment required",
		zap.String("monthlyAmount", q.MonthlyAmount.String()),
		zap.String("maxAmountRequired", string(challenge.Accepts[0].MaxAmountRequired)))
	return &Decision{Outcome: Challenged, Account: q.Account, Challenge: challenge}, nil
}

func (g *Gate) settle(ctx context.Context, q Query, header string) (*Decision, error) {
	stream := g.pipeline.StreamFor(q.Recipient, q.MonthlyAmount)
	res, err := g.pipeline.Pay(ctx, header, stream)
	if res == nil {
		return nil, err
	}
	d := &Decision{Outcome: Settled, Account: q.Account, Settlement: res}
	if err != nil {
		return d, err
	}

	payer := res.Payer
	d.Account = payer
	balances, err := g.chain.Balances(ctx, payer)
	if err != nil {
		zap.L().Warn("Post-payment balance read failed", zap.String("account", payer.Hex()), zap.Error(err))
		return d, nil
	}
	d.SuperBalance = balances.Super
	zap.L().Info("Payment and wrap completed",
		zap.String("account", payer.Hex()),
		zap.String("wrapped", g.pipeline.Fees().FormatUnderlying(res.Wrapped)),
		zap.String("fee", g.pipeline.Fees().FormatUnderlying(res.Fee)),
		zap.Stringer("stream", res.Stream.Status))
	return d, nil
}
