// Package model defines the per-request domain types shared by the codec, the
// chain gateway and the facilitator pipeline.
//
// None of these values outlive a request: durable state lives on-chain.
//
//   - PaymentAuthorization: a decoded EIP-3009 authorization and its signature
//   - WrapResult: the transactions of a wrap and whether the fallback path ran
//   - FlowPermissions: CFA flow operator data; only the full mask 7 counts
//   - StreamOutcome: NotRequested, Created(tx), PermissionDenied or Failed(reason)
//   - SettlementResult: ordered transactions, fee, wrapped amount, stream
//     outcome, and the failing stage when a step did not complete
package model
