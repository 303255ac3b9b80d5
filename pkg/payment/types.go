package payment

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/super-x402/facilitator/pkg/model"
)

// PaymentRequirements describes one accepted way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string             `json:"scheme"`
	Network           string             `json:"network"`
	MaxAmountRequired Quantity           `json:"maxAmountRequired"`
	Asset             string             `json:"asset"`
	PayTo             string             `json:"payTo"`
	Resource          string             `json:"resource"`
	Description       string             `json:"description"`
	MimeType          string             `json:"mimeType"`
	MaxTimeoutSeconds int                `json:"maxTimeoutSeconds"`
	Extra             *RequirementsExtra `json:"extra,omitempty"`
}

// RequirementsExtra carries the EIP-712 domain hints and the auto-wrap terms.
type RequirementsExtra struct {
	Name           string       `json:"name"`
	Version        string       `json:"version"`
	AutoWrap       bool         `json:"autoWrap"`
	SuperToken     string       `json:"superToken"`
	WrapAmount     Quantity     `json:"wrapAmount"`
	Fee            Quantity     `json:"fee"`
	Facilitator    string       `json:"facilitator"`
	CFAV1Forwarder string       `json:"cfaV1Forwarder"`
	Stream         *StreamTerms `json:"stream,omitempty"`
}

// StreamTerms describes the stream a payment should open. MonthlyAmount and
// FlowRate are in super token units.
type StreamTerms struct {
	Recipient     string   `json:"recipient"`
	MonthlyAmount Quantity `json:"monthlyAmount,omitempty"`
	FlowRate      Quantity `json:"flowRate"`
}

// PaymentRequired is the 402 response body.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyRequest is the body of POST /verify and POST /settle.
type VerifyRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentHeader       string               `json:"paymentHeader"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements,omitempty"`
}

// SettleRequest has the same shape as VerifyRequest.
type SettleRequest = VerifyRequest

// VerifyResponse is the body returned by POST /verify.
type VerifyResponse struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason"`
	Payer         string  `json:"payer,omitempty"`
}

// SettleResponse is the body returned by POST /settle. Error, TxHash and
// NetworkID are always present and null when not applicable.
type SettleResponse struct {
	Success       bool                 `json:"success"`
	Error         *string              `json:"error"`
	TxHash        *common.Hash         `json:"txHash"`
	NetworkID     *string              `json:"networkId"`
	Transactions  []common.Hash        `json:"transactions,omitempty"`
	Fee           string               `json:"fee,omitempty"`
	Wrapped       string               `json:"wrapped,omitempty"`
	WrapMode      string               `json:"wrapMode,omitempty"`
	StreamCreated *bool                `json:"streamCreated,omitempty"`
	StreamTxHash  *common.Hash         `json:"streamTxHash,omitempty"`
	StreamOutcome *model.StreamOutcome `json:"streamOutcome,omitempty"`
	Stage         string               `json:"stage,omitempty"`
}

// Kind is one supported (version, scheme, network) combination.
type Kind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds []Kind `json:"kinds"`
}

// FeeInfo publishes the fee policy parameters.
type FeeInfo struct {
	MinFee  string `json:"minFee"`
	Divisor int64  `json:"divisor"`
	Percent int64  `json:"percent"`
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Facilitator     string  `json:"facilitator"`
	Network         string  `json:"network"`
	ChainID         int64   `json:"chainId"`
	SuperToken      string  `json:"superToken"`
	UnderlyingToken string  `json:"underlyingToken"`
	CFAV1Forwarder  string  `json:"cfaV1Forwarder"`
	Fee             FeeInfo `json:"fee"`
}

// ResourceResponse is the 200 body of GET /resource after a payment settled.
type ResourceResponse struct {
	Status            string               `json:"status"`
	Account           string               `json:"account"`
	SuperTokenBalance string               `json:"superTokenBalance,omitempty"`
	Message           string               `json:"message"`
	Transactions      []common.Hash        `json:"transactions"`
	Fee               string               `json:"fee"`
	Wrapped           string               `json:"wrapped"`
	WrapMode          string               `json:"wrapMode"`
	StreamCreated     bool                 `json:"streamCreated"`
	StreamTxHash      *common.Hash         `json:"streamTxHash"`
	StreamOutcome     *model.StreamOutcome `json:"streamOutcome"`
}

// EntitlementResponse is the 200 body of GET /resource when a stream already flows.
type EntitlementResponse struct {
	Status    string `json:"status"`
	Account   string `json:"account"`
	Recipient string `json:"recipient"`
	FlowRate  string `json:"flowRate"`
	Message   string `json:"message"`
}

// ErrorResponse is the body of 4xx/5xx responses. Transactions and Stage are
// filled when a settlement failed after moving funds.
type ErrorResponse struct {
	Error        string        `json:"error"`
	Code         string        `json:"code,omitempty"`
	Details      string        `json:"details,omitempty"`
	Stage        string        `json:"stage,omitempty"`
	Transactions []common.Hash `json:"transactions,omitempty"`
}
