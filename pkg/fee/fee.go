// Package fee implements the facilitator fee policy: the fee charged on a
// payment, the inversion from a gross authorized amount back to the net amount
// to wrap, unit conversion between the underlying token and the super token,
// and per-second flow rate arithmetic. All arithmetic is exact big-integer math.
package fee

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/super-x402/facilitator/pkg/config"
)

// SecondsPerMonth is the 30-day month used to turn a monthly amount into a
// per-second flow rate.
const SecondsPerMonth = 2592000

// ErrAmountBelowFee is returned when a gross amount cannot even cover the
// minimum fee.
var ErrAmountBelowFee = errors.New("amount does not cover the minimum fee")

// Policy computes fee = max(MinFee, floor(amount*Percent/Divisor)).
// The zero value is not usable; build one with New or FromConfig.
type Policy struct {
	minFee  *big.Int
	divisor *big.Int
	percent *big.Int
	// scale is 10^(superDecimals-underlyingDecimals).
	scale              *big.Int
	underlyingDecimals int
	superDecimals      int
}

// New builds a Policy. divisor and percent must be positive and the super
// token must not have fewer decimals than the underlying token.
func New(minFee, divisor, percent int64, underlyingDecimals, superDecimals int) (*Policy, error) {
	if divisor <= 0 || percent <= 0 || minFee < 0 {
		return nil, fmt.Errorf("invalid fee parameters: minFee=%d divisor=%d percent=%d", minFee, divisor, percent)
	}
	delta := superDecimals - underlyingDecimals
	if delta < 0 {
		return nil, fmt.Errorf("super token decimals %d below underlying decimals %d", superDecimals, underlyingDecimals)
	}
	return &Policy{
		minFee:             big.NewInt(minFee),
		divisor:            big.NewInt(divisor),
		percent:            big.NewInt(percent),
		scale:              new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(delta)), nil),
		underlyingDecimals: underlyingDecimals,
		superDecimals:      superDecimals,
	}, nil
}

// FromConfig builds the Policy described by cfg.Fee and the token decimals in cfg.Contracts.
func FromConfig(cfg *config.Config) (*Policy, error) {
	return New(cfg.Fee.MinFee, cfg.Fee.Divisor, cfg.Fee.Percent,
		cfg.Contracts.UnderlyingToken.Decimals, cfg.Contracts.SuperToken.Decimals)
}

// MinFee returns a copy of the minimum fee.
func (p *Policy) MinFee() *big.Int { return new(big.Int).Set(p.minFee) }

// Fee returns max(MinFee, floor(amount*Percent/Divisor)).
func (p *Policy) Fee(amount *big.Int) *big.Int {
	pct := new(big.Int).Mul(amount, p.percent)
	pct.Quo(pct, p.divisor)
	if pct.Cmp(p.minFee) > 0 {
		return pct
	}
	return new(big.Int).Set(p.minFee)
}

// Gross returns the total a payer must authorize so that net is wrapped:
// net + Fee(net). This is the amount advertised in a 402 challenge.
func (p *Policy) Gross(net *big.Int) *big.Int {
	return new(big.Int).Add(net, p.Fee(net))
}

// Threshold returns the net amount at which the percentage fee reaches the
// minimum fee, ceil(MinFee*Divisor/Percent). Below it the flat fee applies.
func (p *Policy) Threshold() *big.Int {
	num := new(big.Int).Mul(p.minFee, p.divisor)
	q, r := new(big.Int).QuoRem(num, p.percent, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Split recovers the net amount to wrap and the fee from a gross authorized
// amount. net+fee == gross always holds, and Split(Gross(n)) returns n.
//
// In the flat regime (gross <= Threshold+MinFee) the fee is MinFee. Above it
// net is the largest n with n + floor(n*P/D) <= gross, which in closed form is
// floor(((gross+1)*D - 1) / (D+P)).
//
// The plain quotient floor(gross*D/(D+P)) is one unit lower for some gross
// values (100100999 gives net 100000998, fee 100001 instead of 100000999 and
// 100000) and would break the round trip through Gross.
func (p *Policy) Split(gross *big.Int) (net, fee *big.Int, err error) {
	if gross == nil || gross.Cmp(p.minFee) < 0 {
		return nil, nil, ErrAmountBelowFee
	}

	flatCeiling := new(big.Int).Add(p.Threshold(), p.minFee)
	if gross.Cmp(flatCeiling) <= 0 {
		fee = new(big.Int).Set(p.minFee)
		return new(big.Int).Sub(gross, fee), fee, nil
	}

	num := new(big.Int).Add(gross, big.NewInt(1))
	num.Mul(num, p.divisor)
	num.Sub(num, big.NewInt(1))
	den := new(big.Int).Add(p.divisor, p.percent)
	net = num.Quo(num, den)
	return net, new(big.Int).Sub(gross, net), nil
}

// ToSuperUnits converts an underlying-token amount to super-token units by
// multiplying with 10^(superDecimals-underlyingDecimals).
func (p *Policy) ToSuperUnits(amount *big.Int) *big.Int {
	return new(big.Int).Mul(amount, p.scale)
}

// FlowRate converts a monthly super-token amount to a per-second flow rate,
// truncating toward zero.
func FlowRate(monthly *big.Int) *big.Int {
	return new(big.Int).Quo(monthly, big.NewInt(SecondsPerMonth))
}

// MonthlyAmount is the inverse of FlowRate up to truncation.
func MonthlyAmount(flowRate *big.Int) *big.Int {
	return new(big.Int).Mul(flowRate, big.NewInt(SecondsPerMonth))
}

// StreamFlowRate returns the super-token flow rate for a monthly amount given
// in underlying units, together with the monthly amount in super units.
func (p *Policy) StreamFlowRate(monthlyUnderlying *big.Int) (flowRate, monthlySuper *big.Int) {
	monthlySuper = p.ToSuperUnits(monthlyUnderlying)
	return FlowRate(monthlySuper), monthlySuper
}

// FormatUnderlying renders an underlying-token amount in whole tokens, e.g. 1100000 -> "1.1".
func (p *Policy) FormatUnderlying(amount *big.Int) string {
	return Format(amount, p.underlyingDecimals)
}

// Format renders amount / 10^decimals as a decimal string without trailing zeros.
func Format(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}
