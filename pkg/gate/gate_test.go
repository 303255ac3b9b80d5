package gate

import (
	"context"
	"errors"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/super-x402/facilitator/internal/testutil/fakechain"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/facilitator"
	"github.com/super-x402/facilitator/pkg/fee"
	"github.com/super-x402/facilitator/pkg/model"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b2"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		values  url.Values
		field   string
		monthly string
	}{
		{"defaults", url.Values{"account": {alice}, "recipient": {bob}}, "", "1000000"},
		{"monthly", url.Values{"account": {alice}, "recipient": {bob}, "monthlyAmount": {"250000000"}}, "", "250000000"},
		{"missing account", url.Values{"recipient": {bob}}, "account", ""},
		{"bad account", url.Values{"account": {"0x123"}, "recipient": {bob}}, "account", ""},
		{"missing recipient", url.Values{"account": {alice}}, "recipient", ""},
		{"bad recipient", url.Values{"account": {alice}, "recipient": {"bob"}}, "recipient", ""},
		{"zero monthly", url.Values{"account": {alice}, "recipient": {bob}, "monthlyAmount": {"0"}}, "monthlyAmount", ""},
		{"negative monthly", url.Values{"account": {alice}, "recipient": {bob}, "monthlyAmount": {"-1"}}, "monthlyAmount", ""},
		{"decimal monthly", url.Values{"account": {alice}, "recipient": {bob}, "monthlyAmount": {"1.5"}}, "monthlyAmount", ""},
		{"hex monthly", url.Values{"account": {alice}, "recipient": {bob}, "monthlyAmount": {"0x10"}}, "monthlyAmount", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := ParseQuery(tc.values)
			if tc.field != "" {
				require.ErrorIs(t, err, ErrInvalidQuery)
				var qe *QueryError
				require.True(t, errors.As(err, &qe))
				assert.Equal(t, tc.field, qe.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(alice), q.Account)
			assert.Equal(t, common.HexToAddress(bob), q.Recipient)
			assert.Equal(t, tc.monthly, q.MonthlyAmount.String())
		})
	}
}

type fixture struct {
	cfg   *config.Config
	gw    *fakechain.Gateway
	payer *fakechain.Payer
	f     *facilitator.Facilitator
	gate  *Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, operator := fakechain.Config(t)
	gw := fakechain.New(operator)
	fees, err := fee.FromConfig(cfg)
	require.NoError(t, err)
	f, err := facilitator.New(cfg, gw, fees, facilitator.WithClock(func() time.Time { return fakechain.Now }))
	require.NoError(t, err)
	return &fixture{cfg: cfg, gw: gw, payer: fakechain.NewPayer(t, cfg), f: f, gate: New(f, gw)}
}

func query(account, recipient string) Query {
	return Query{
		Account:       common.HexToAddress(account),
		Recipient:     common.HexToAddress(recipient),
		MonthlyAmount: big.NewInt(DefaultMonthlyAmount),
	}
}

func TestEvaluate_Entitled(t *testing.T) {
	fx := newFixture(t)
	fx.gw.SetFlowRate(common.HexToAddress(alice), common.HexToAddress(bob), 385802469135)

	d, err := fx.gate.Evaluate(context.Background(), "http://x/resource", query(alice, bob), "")
	require.NoError(t, err)
	assert.Equal(t, Entitled, d.Outcome)
	assert.Equal(t, "385802469135", d.FlowRate.String())
	assert.Equal(t, "Access granted! You have an active stream to "+common.HexToAddress(bob).Hex(),
		d.Message(fx.cfg, fx.f.Fees(), common.HexToAddress(bob)))
	assert.Empty(t, fx.gw.Writes())
}

func TestEvaluate_Challenged(t *testing.T) {
	fx := newFixture(t)

	d, err := fx.gate.Evaluate(context.Background(), "http://x/resource", query(alice, bob), "")
	require.NoError(t, err)
	assert.Equal(t, Challenged, d.Outcome)
	require.NotNil(t, d.Challenge)
	assert.Equal(t, 1, d.Challenge.X402Version)
	require.Len(t, d.Challenge.Accepts, 1)
	assert.Equal(t, "1100000", string(d.Challenge.Accepts[0].MaxAmountRequired))
	assert.Equal(t, "http://x/resource", d.Challenge.Accepts[0].Resource)
	assert.Equal(t, "Payment required: Must have an active stream to "+common.HexToAddress(bob).Hex(), d.Challenge.Error)
}

func TestEvaluate_SelfStreamBeforePricing(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.gate.Evaluate(context.Background(), "r", query(alice, alice), "")
	require.Error(t, err)
	assert.Equal(t, facilitator.CodeSelfStream, facilitator.CodeOf(err))
	assert.Empty(t, fx.gw.Calls())
}

func TestEvaluate_FlowRateError(t *testing.T) {
	fx := newFixture(t)
	fx.gw.FlowRateErr = errors.New("rpc down")

	_, err := fx.gate.Evaluate(context.Background(), "r", query(alice, bob), "")
	require.Error(t, err)
	assert.Equal(t, facilitator.CodeServerError, facilitator.CodeOf(err))
}

func TestEvaluate_Settled(t *testing.T) {
	fx := newFixture(t)
	fx.gw.Balance = model.Balances{Underlying: big.NewInt(0), Super: big.NewInt(1e18)}

	header := fx.payer.Header(t, fx.f.Operator(), 1_100_000)
	d, err := fx.gate.Evaluate(context.Background(), "r", query(alice, bob), header)
	require.NoError(t, err)

	assert.Equal(t, Settled, d.Outcome)
	assert.Equal(t, fx.payer.Address, d.Account)
	assert.Equal(t, "1000000000000000000", d.SuperBalance.String())
	require.True(t, d.Settlement.Stream.IsCreated())
	assert.Equal(t, "Access granted! Wrapped 1 USDC to USDCx and created stream (fee: 0.1 USDC)",
		d.Message(fx.cfg, fx.f.Fees(), common.HexToAddress(bob)))
	assert.Equal(t, []string{"transferWithAuthorization", "upgradeTo", "setFlowrateFrom"}, fx.gw.Writes())
}

func TestEvaluate_SettledWithoutStream(t *testing.T) {
	fx := newFixture(t)
	fx.gw.Permissions = 0

	d, err := fx.gate.Evaluate(context.Background(), "r", query(alice, bob), fx.payer.Header(t, fx.f.Operator(), 1_100_000))
	require.NoError(t, err)
	assert.Equal(t, model.StreamPermissionDenied, d.Settlement.Stream.Status)
	assert.Equal(t, "Access granted! Wrapped 1 USDC to USDCx (fee: 0.1 USDC)",
		d.Message(fx.cfg, fx.f.Fees(), common.HexToAddress(bob)))
}

func TestEvaluate_InvalidPayment(t *testing.T) {
	fx := newFixture(t)

	d, err := fx.gate.Evaluate(context.Background(), "r", query(alice, bob), "garbage")
	require.Error(t, err)
	assert.Nil(t, d)
	assert.True(t, facilitator.IsVerification(err))
}

func TestEvaluate_SettlementFailure(t *testing.T) {
	fx := newFixture(t)
	fx.gw.WrapErr = errors.New("out of gas")

	d, err := fx.gate.Evaluate(context.Background(), "r", query(alice, bob), fx.payer.Header(t, fx.f.Operator(), 1_100_000))
	require.Error(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Settlement.Success)
	assert.Equal(t, facilitator.StageWrap, d.Settlement.Stage)
	assert.Len(t, d.Settlement.Transactions, 1)
	assert.NotContains(t, fx.gw.Calls(), "balanceOf")
}
