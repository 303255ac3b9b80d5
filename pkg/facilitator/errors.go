package facilitator

import (
	"errors"
	"fmt"

	"github.com/super-x402/facilitator/pkg/blockchain"
)

// Code classifies pipeline errors.
type Code string

const (
	CodeMalformedPayload        Code = "malformed_payload"
	CodeMissingField            Code = "missing_field"
	CodeUnsupportedVersion      Code = "unsupported_version"
	CodeUnsupportedScheme       Code = "unsupported_scheme"
	CodeUnsupportedNetwork      Code = "unsupported_network"
	CodeInvalidPayee            Code = "invalid_payee"
	CodeInvalidSignature        Code = "invalid_signature"
	CodeAuthorizationExpired    Code = "authorization_expired"
	CodeInsufficientAmount      Code = "insufficient_amount"
	CodeChainRejected           Code = "chain_rejected"
	CodeChainTimeout            Code = "chain_timeout"
	CodeInsufficientPermissions Code = "insufficient_permissions"
	CodeSelfStream              Code = "self_stream"
	CodeServerError             Code = "server_error"
)

// Pipeline stages, in execution order.
const (
	StageDecode   = "decode"
	StageVerify   = "verify"
	StageTransfer = "transfer"
	StageApprove  = "approve"
	StageWrap     = "wrap"
	StageStream   = "stream"
)

// Error is a classified pipeline failure. Message is safe to return to clients.
type Error struct {
	Code    Code
	Stage   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code Code, stage, message string, cause error) *Error {
	return &Error{Code: code, Stage: stage, Message: message, Cause: cause}
}

// CodeOf extracts the code of the first *Error in err's chain, or
// CodeServerError when there is none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeServerError
}

// IsVerification reports whether err was raised before any chain write.
func IsVerification(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Stage == StageDecode || fe.Stage == StageVerify
}

// chainError classifies a gateway error raised at stage.
func chainError(stage string, err error) *Error {
	switch {
	case errors.Is(err, blockchain.ErrChainTimeout):
		return NewError(CodeChainTimeout, stage, "transaction was not confirmed in time", err)
	case errors.Is(err, blockchain.ErrChainRejected):
		return NewError(CodeChainRejected, stage, "transaction rejected", err)
	case errors.Is(err, blockchain.ErrSelfStream):
		return NewError(CodeSelfStream, stage, "cannot create stream to yourself", err)
	default:
		return NewError(CodeServerError, stage, "chain request failed", err)
	}
}
