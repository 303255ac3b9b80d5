// Package blockchain is the facilitator's chain gateway.
//
// EVMClient signs as the facilitator operator and talks to four contracts:
//
//   - the underlying token (USDC): EIP-3009 transferWithAuthorization, allowance, approve
//   - the super token (USDCx): upgradeTo, or upgrade followed by transfer
//   - the Superfluid CFA: flow operator permissions
//   - the CFA forwarder: flow rate reads and setFlowrateFrom
//
// Every write is broadcast under a per-operator lock and then waited on
// outside it:
//
//	evm, err := blockchain.Dial(ctx, cfg, blockchain.WithTxObserver(m))
//	if err != nil {
//		return err
//	}
//	defer evm.Close()
//
//	tx, err := evm.TransferWithAuthorization(ctx, auth)
//
// A write that could not be broadcast returns a zero hash and ErrChainRejected.
// Once broadcast, the hash is always returned; the wait may still fail with
// ErrChainRejected (reverted) or ErrChainTimeout (Timeouts.ReceiptWait
// elapsed). The receipt wait does not observe cancellation of the caller's
// context.
//
// Reads are bounded by Timeouts.ChainRead. Balances fetches both token
// balances concurrently.
package blockchain
