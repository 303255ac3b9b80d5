// Package payment implements the x402 wire format used by the facilitator.
//
// # Payment header
//
// Clients send an X-PAYMENT header holding base64 encoded JSON:
//
//	{
//	  "x402Version": 1,
//	  "scheme": "exact",
//	  "network": "base",
//	  "payload": {
//	    "signature": "0x...65 bytes",
//	    "account": "0xPayer",
//	    "authorization": {
//	      "from": "0xPayer", "to": "0xFacilitator", "value": "1100000",
//	      "validAfter": "0", "validBefore": "1735689600", "nonce": "0x...32 bytes"
//	    }
//	  }
//	}
//
// DecodePaymentHeader and EncodePaymentHeader convert between the header and
// PaymentPayload, and PaymentPayload.Authorization yields the typed
// model.PaymentAuthorization. Decoding errors wrap ErrMalformedPayload or
// ErrMissingField so callers can classify them with errors.Is.
//
// # EIP-3009
//
// The authorization is an EIP-712 TransferWithAuthorization message under the
// token domain (name "USD Coin", version "2", chain id, token address):
//
//	d := payment.DomainFromConfig(cfg)
//	if err := payment.VerifyAuthorization(auth, d); err != nil {
//		// errors.Is(err, payment.ErrInvalidSignature)
//	}
//
// SignAuthorization produces such a signature from a private key and is used
// by the example client and the tests.
//
// # Settlement header
//
// A successful settlement is echoed in X-PAYMENT-RESPONSE as base64 JSON of
// SettlementSummary. EncodeSettlementHeader and DecodeSettlementHeader are
// exact inverses.
package payment
