package payment

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/super-x402/facilitator/pkg/model"
)

var testDomain = Domain{
	Name:              "USD Coin",
	Version:           "2",
	ChainID:           8453,
	VerifyingContract: common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"),
}

// mustKey generates a secp256k1 private key via go-ethereum helpers.
func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

// mustSignedAuth returns an authorization from key's address to payee,
// signed under testDomain.
func mustSignedAuth(t *testing.T, key *ecdsa.PrivateKey, payee common.Address, value int64) *model.PaymentAuthorization {
	t.Helper()
	from := gethcrypto.PubkeyToAddress(key.PublicKey)
	auth := &model.PaymentAuthorization{
		From:        from,
		To:          payee,
		Value:       big.NewInt(value),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(1_900_000_000),
		Account:     from,
	}
	auth.Nonce[0] = 0x42
	auth.Nonce[31] = 0x24
	if err := SignAuthorization(auth, testDomain, key); err != nil {
		t.Fatalf("SignAuthorization: %v", err)
	}
	return auth
}

// mustHeader encodes auth as an X-PAYMENT value for network "base".
func mustHeader(t *testing.T, auth *model.PaymentAuthorization) string {
	t.Helper()
	h, err := EncodePaymentHeader(NewPaymentPayload("base", auth))
	if err != nil {
		t.Fatalf("EncodePaymentHeader: %v", err)
	}
	return h
}

func assertSameAuth(t *testing.T, got, want *model.PaymentAuthorization) {
	t.Helper()
	if got.From != want.From || got.To != want.To || got.Account != want.Account {
		t.Fatalf("address mismatch: got %+v want %+v", got, want)
	}
	if got.Value.Cmp(want.Value) != 0 || got.ValidAfter.Cmp(want.ValidAfter) != 0 || got.ValidBefore.Cmp(want.ValidBefore) != 0 {
		t.Fatalf("amount/window mismatch: got %+v want %+v", got, want)
	}
	if got.Nonce != want.Nonce || !bytes.Equal(got.Signature, want.Signature) {
		t.Fatal("nonce/signature mismatch")
	}
}
