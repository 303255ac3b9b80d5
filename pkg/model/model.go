package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FullFlowPermissions is the CFA flow operator bitmask granting create, update
// and delete. Anything else is insufficient for the facilitator to act.
const FullFlowPermissions uint8 = 7

// PaymentAuthorization is a decoded EIP-3009 transferWithAuthorization
// message together with its signature and the payload account.
type PaymentAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	// Signature is the 65-byte r||s||v signature.
	Signature []byte
	// Account is the payer as declared by the payload envelope.
	Account common.Address
}

// NonceHex returns the nonce as a 0x-prefixed hex string.
func (a *PaymentAuthorization) NonceHex() string {
	return hexutil.Encode(a.Nonce[:])
}

// ValidAt reports whether validAfter <= now <= validBefore.
func (a *PaymentAuthorization) ValidAt(now time.Time) bool {
	if a.ValidAfter == nil || a.ValidBefore == nil {
		return false
	}
	ts := big.NewInt(now.Unix())
	return a.ValidAfter.Cmp(ts) <= 0 && ts.Cmp(a.ValidBefore) <= 0
}

// Expired reports whether now is past validBefore.
func (a *PaymentAuthorization) Expired(now time.Time) bool {
	return a.ValidBefore == nil || big.NewInt(now.Unix()).Cmp(a.ValidBefore) > 0
}

// WrapMode records which super token entrypoint performed a wrap.
type WrapMode int

const (
	// WrapDirect means upgradeTo minted straight to the recipient.
	WrapDirect WrapMode = iota
	// WrapFallback means upgrade to the operator followed by transfer.
	WrapFallback
)

func (m WrapMode) String() string {
	switch m {
	case WrapDirect:
		return "direct"
	case WrapFallback:
		return "fallback"
	default:
		return fmt.Sprintf("WrapMode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m WrapMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// WrapResult lists the transactions a wrap produced, in order. For
// WrapFallback the last hash is the transfer to the recipient.
type WrapResult struct {
	Mode     WrapMode
	TxHashes []common.Hash
}

// Final returns the hash that delivered super tokens to the recipient.
func (w WrapResult) Final() (common.Hash, bool) {
	if len(w.TxHashes) == 0 {
		return common.Hash{}, false
	}
	return w.TxHashes[len(w.TxHashes)-1], true
}

// FlowPermissions is the flow operator data for a (token, sender, operator) triple.
type FlowPermissions struct {
	HasPermissions    bool
	Permissions       uint8
	FlowRateAllowance *big.Int
}

// NewFlowPermissions builds FlowPermissions from the raw bitmask.
func NewFlowPermissions(mask uint8, allowance *big.Int) FlowPermissions {
	if allowance == nil {
		allowance = new(big.Int)
	}
	return FlowPermissions{
		HasPermissions:    mask == FullFlowPermissions,
		Permissions:       mask,
		FlowRateAllowance: allowance,
	}
}

// StreamStatus enumerates the outcomes of the optional stream step.
type StreamStatus int

const (
	StreamNotRequested StreamStatus = iota
	StreamCreated
	StreamPermissionDenied
	StreamFailed
)

var streamStatusNames = map[StreamStatus]string{
	StreamNotRequested:     "not_requested",
	StreamCreated:          "created",
	StreamPermissionDenied: "permission_denied",
	StreamFailed:           "failed",
}

func (s StreamStatus) String() string {
	if name, ok := streamStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StreamStatus(%d)", int(s))
}

// StreamOutcome is the tagged result of the stream step. TxHash is set only
// for StreamCreated and Reason only for StreamFailed.
type StreamOutcome struct {
	Status StreamStatus
	TxHash *common.Hash
	Reason string
}

// NotRequested is the outcome when no stream was asked for.
func NotRequested() StreamOutcome { return StreamOutcome{Status: StreamNotRequested} }

// Created is the outcome of a confirmed stream transaction.
func Created(tx common.Hash) StreamOutcome {
	return StreamOutcome{Status: StreamCreated, TxHash: &tx}
}

// PermissionDenied is the outcome when the payer has not granted full flow permissions.
func PermissionDenied() StreamOutcome { return StreamOutcome{Status: StreamPermissionDenied} }

// Failed is the outcome when the stream could not be created.
func Failed(reason string) StreamOutcome {
	return StreamOutcome{Status: StreamFailed, Reason: reason}
}

// IsCreated reports whether a stream transaction was confirmed.
func (o StreamOutcome) IsCreated() bool { return o.Status == StreamCreated }

// MarshalJSON renders the outcome as {"status": ..., "txHash"?, "reason"?}.
func (o StreamOutcome) MarshalJSON() ([]byte, error) {
	type wire struct {
		Status string       `json:"status"`
		TxHash *common.Hash `json:"txHash,omitempty"`
		Reason string       `json:"reason,omitempty"`
	}
	return json.Marshal(wire{Status: o.Status.String(), TxHash: o.TxHash, Reason: o.Reason})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (o *StreamOutcome) UnmarshalJSON(b []byte) error {
	var wire struct {
		Status string       `json:"status"`
		TxHash *common.Hash `json:"txHash"`
		Reason string       `json:"reason"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	for status, name := range streamStatusNames {
		if name == wire.Status {
			*o = StreamOutcome{Status: status, TxHash: wire.TxHash, Reason: wire.Reason}
			return nil
		}
	}
	return fmt.Errorf("unknown stream status %q", wire.Status)
}

// SettlementResult is built step by step as the pipeline executes. On failure
// it still carries every transaction confirmed before the failing stage.
type SettlementResult struct {
	Success      bool
	Payer        common.Address
	Transactions []common.Hash
	Fee          *big.Int
	Wrapped      *big.Int
	WrapMode     WrapMode
	Stream       StreamOutcome
	// Stage names the step that failed; empty on success.
	Stage string
	Err   error
	// StreamErr explains a denied or failed stream. It never fails the
	// settlement.
	StreamErr error
}

// Record appends confirmed transaction hashes in execution order.
func (r *SettlementResult) Record(hashes ...common.Hash) {
	r.Transactions = append(r.Transactions, hashes...)
}

// LastTx returns the most recent transaction hash, if any.
func (r *SettlementResult) LastTx() *common.Hash {
	if len(r.Transactions) == 0 {
		return nil
	}
	h := r.Transactions[len(r.Transactions)-1]
	return &h
}

// StreamTxHash returns the stream transaction hash when a stream was created.
func (r *SettlementResult) StreamTxHash() *common.Hash {
	if r.Stream.IsCreated() {
		return r.Stream.TxHash
	}
	return nil
}

// Balances are the token balances of an account after a payment.
type Balances struct {
	Underlying *big.Int
	Super      *big.Int
}
