package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/super-x402/facilitator/pkg/model"
)

var (
	// ErrMalformedPayload is returned when a header is not base64 JSON or a
	// field cannot be parsed.
	ErrMalformedPayload = errors.New("malformed payment payload")
	// ErrMissingField is returned when signature, authorization or account is absent.
	ErrMissingField = errors.New("missing required payload field")
)

// SignatureLength is the size of an r||s||v secp256k1 signature.
const SignatureLength = 65

// Quantity is a uint256 carried as a JSON string. It also accepts bare JSON
// numbers so that clients may send validAfter/validBefore either way.
type Quantity string

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = Quantity(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*q = Quantity(n.String())
	return nil
}

// Big parses the quantity as a decimal or 0x-prefixed hex uint256.
func (q Quantity) Big() (*big.Int, bool) {
	s := strings.TrimSpace(string(q))
	if s == "" {
		return nil, false
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// QuantityOf formats v as a decimal Quantity.
func QuantityOf(v *big.Int) Quantity {
	if v == nil {
		return ""
	}
	return Quantity(v.String())
}

// AuthorizationWire is the EIP-3009 authorization as it travels in the payload.
type AuthorizationWire struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       Quantity `json:"value"`
	ValidAfter  Quantity `json:"validAfter"`
	ValidBefore Quantity `json:"validBefore"`
	Nonce       string   `json:"nonce"`
}

// ExactPayload is the scheme-specific payload of the "exact" scheme.
type ExactPayload struct {
	Signature     string             `json:"signature,omitempty"`
	Authorization *AuthorizationWire `json:"authorization,omitempty"`
	Account       string             `json:"account,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT envelope.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// DecodePaymentHeader decodes a base64 JSON X-PAYMENT value and checks that
// the exact-scheme fields are present. Standard encoding is tried first, then
// the unpadded and URL-safe alphabets.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	p, err := DecodeEnvelope(header)
	if err != nil {
		return nil, err
	}
	if err := p.checkFields(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeEnvelope decodes the X-PAYMENT JSON without checking the payload
// fields, so that version, scheme and network can be judged first.
func DecodeEnvelope(header string) (*PaymentPayload, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

// EncodePaymentHeader is the inverse of DecodePaymentHeader.
func EncodePaymentHeader(p *PaymentPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (p *PaymentPayload) checkFields() error {
	pl := p.Payload
	var missing []string
	if pl.Signature == "" {
		missing = append(missing, "signature")
	}
	if pl.Authorization == nil {
		missing = append(missing, "authorization")
	}
	if pl.Account == "" {
		missing = append(missing, "account")
	}
	if a := pl.Authorization; a != nil {
		for _, f := range []struct{ name, value string }{
			{"authorization.from", a.From},
			{"authorization.to", a.To},
			{"authorization.value", string(a.Value)},
			{"authorization.validAfter", string(a.ValidAfter)},
			{"authorization.validBefore", string(a.ValidBefore)},
			{"authorization.nonce", a.Nonce},
		} {
			if strings.TrimSpace(f.value) == "" {
				missing = append(missing, f.name)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

// Authorization converts the wire payload into a typed authorization.
func (p *PaymentPayload) Authorization() (*model.PaymentAuthorization, error) {
	if err := p.checkFields(); err != nil {
		return nil, err
	}
	a := p.Payload.Authorization

	from, err := parseAddress("from", a.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("to", a.To)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", p.Payload.Account)
	if err != nil {
		return nil, err
	}

	value, ok := a.Value.Big()
	if !ok {
		return nil, fmt.Errorf("%w: invalid value %q", ErrMalformedPayload, a.Value)
	}
	validAfter, ok := a.ValidAfter.Big()
	if !ok {
		return nil, fmt.Errorf("%w: invalid validAfter %q", ErrMalformedPayload, a.ValidAfter)
	}
	validBefore, ok := a.ValidBefore.Big()
	if !ok {
		return nil, fmt.Errorf("%w: invalid validBefore %q", ErrMalformedPayload, a.ValidBefore)
	}

	nonce, err := hexutil.Decode(a.Nonce)
	if err != nil || len(nonce) != 32 {
		return nil, fmt.Errorf("%w: nonce must be 32 bytes hex", ErrMalformedPayload)
	}

	sig, err := hexutil.Decode(p.Payload.Signature)
	if err != nil || len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes hex", ErrMalformedPayload, SignatureLength)
	}

	auth := &model.PaymentAuthorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Signature:   sig,
		Account:     account,
	}
	copy(auth.Nonce[:], nonce)
	return auth, nil
}

// NewPaymentPayload builds the wire envelope for a signed authorization.
func NewPaymentPayload(network string, auth *model.PaymentAuthorization) *PaymentPayload {
	return &PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     network,
		Payload: ExactPayload{
			Signature: hexutil.Encode(auth.Signature),
			Authorization: &AuthorizationWire{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       QuantityOf(auth.Value),
				ValidAfter:  QuantityOf(auth.ValidAfter),
				ValidBefore: QuantityOf(auth.ValidBefore),
				Nonce:       auth.NonceHex(),
			},
			Account: auth.Account.Hex(),
		},
	}
}

// SplitSignature splits a 65-byte hex signature into r, s and v. A v of 0 or
// 1 is normalized to 27 or 28 for the token's ecrecover; any other value
// besides 27 and 28 is rejected.
func SplitSignature(sigHex string) (r, s [32]byte, v uint8, err error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return r, s, 0, fmt.Errorf("%w: signature: %v", ErrMalformedPayload, err)
	}
	return SplitSignatureBytes(sig)
}

// SplitSignatureBytes is SplitSignature for raw bytes.
func SplitSignatureBytes(sig []byte) (r, s [32]byte, v uint8, err error) {
	if len(sig) != SignatureLength {
		return r, s, 0, fmt.Errorf("%w: signature length %d, want %d", ErrMalformedPayload, len(sig), SignatureLength)
	}
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	switch v {
	case 0, 1:
		v += 27
	case 27, 28:
	default:
		return r, s, 0, fmt.Errorf("%w: signature v=%d", ErrMalformedPayload, v)
	}
	return r, s, v, nil
}

// SettlementSummary is the body of the X-PAYMENT-RESPONSE header.
type SettlementSummary struct {
	Success       bool                `json:"success"`
	TxHash        *common.Hash        `json:"txHash"`
	Transactions  []common.Hash       `json:"transactions"`
	Fee           string              `json:"fee"`
	Wrapped       string              `json:"wrapped"`
	StreamCreated bool                `json:"streamCreated"`
	StreamTxHash  *common.Hash        `json:"streamTxHash"`
	StreamOutcome model.StreamOutcome `json:"streamOutcome"`
}

// EncodeSettlementHeader renders s as base64 JSON.
func EncodeSettlementHeader(s *SettlementSummary) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeSettlementHeader is the inverse of EncodeSettlementHeader.
func DecodeSettlementHeader(header string) (*SettlementSummary, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var s SettlementSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &s, nil
}

// SummaryFrom builds the header summary for a successful settlement.
func SummaryFrom(r *model.SettlementResult) *SettlementSummary {
	s := &SettlementSummary{
		Success:       r.Success,
		Transactions:  append([]common.Hash{}, r.Transactions...),
		StreamCreated: r.Stream.IsCreated(),
		StreamTxHash:  r.StreamTxHash(),
		StreamOutcome: r.Stream,
	}
	if r.Fee != nil {
		s.Fee = r.Fee.String()
	}
	if r.Wrapped != nil {
		s.Wrapped = r.Wrapped.String()
	}
	if last := r.LastTx(); last != nil {
		s.TxHash = last
	}
	return s
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", ErrMalformedPayload, field, v)
	}
	return common.HexToAddress(v), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty header")
	}
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
