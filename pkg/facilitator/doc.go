// Package facilitator verifies x402 "exact" payments and settles them on
// chain.
//
// A payment is an EIP-3009 transferWithAuthorization signed by the payer in
// favor of the facilitator operator. Settling it runs a fixed pipeline:
//
//	transfer   pull the gross amount from the payer to the operator
//	approve    let the super token pull the net amount (only if needed)
//	wrap       upgrade the net amount into super tokens owned by the payer
//	stream     optionally open a flow from the payer to a recipient
//
// The difference between gross and net is the facilitator fee, see package
// fee. Every step waits for its receipt before the next one starts. A failure
// in transfer, approve or wrap fails the settlement and the partial list of
// transactions is reported back. A stream problem never does.
//
// Facilitator is transport agnostic. Package server exposes it over HTTP and
// package gate uses it to guard a resource behind an active stream.
package facilitator
