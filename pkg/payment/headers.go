package payment

const (
	// X402Version is the only protocol version the facilitator speaks.
	X402Version = 1

	// SchemeExact is the x402 scheme backed by EIP-3009 transferWithAuthorization.
	SchemeExact = "exact"

	// PaymentHeader carries the base64 JSON payment payload from the client.
	PaymentHeader = "X-PAYMENT"
	// PaymentResponseHeader carries the base64 JSON settlement summary back to the client.
	// Browsers only see it when it is listed in Access-Control-Expose-Headers.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"

	// MaxTimeoutSeconds is advertised in every 402 challenge.
	MaxTimeoutSeconds = 120

	// MimeTypeJSON is the mime type of gated resources.
	MimeTypeJSON = "application/json"
)
