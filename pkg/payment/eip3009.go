package payment

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/super-x402/facilitator/pkg/config"
	"github.com/super-x402/facilitator/pkg/model"
)

// ErrInvalidSignature is returned when the recovered signer is not the payer.
var ErrInvalidSignature = errors.New("invalid signature")

const primaryType = "TransferWithAuthorization"

var eip3009Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// Domain is the EIP-712 domain of an EIP-3009 token.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// DomainFromConfig returns the domain of the configured underlying token.
func DomainFromConfig(cfg *config.Config) Domain {
	t := cfg.Contracts.UnderlyingToken
	return Domain{
		Name:              t.Name,
		Version:           t.Version,
		ChainID:           cfg.Network.ChainID,
		VerifyingContract: common.HexToAddress(t.Address),
	}
}

// TypedData builds the EIP-712 TransferWithAuthorization message for auth.
func TypedData(auth *model.PaymentAuthorization, d Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       eip3009Types,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           math.NewHexOrDecimal256(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       bigString(auth.Value),
			"validAfter":  bigString(auth.ValidAfter),
			"validBefore": bigString(auth.ValidBefore),
			"nonce":       auth.NonceHex(),
		},
	}
}

// Digest returns the EIP-712 hash that the payer signs.
func Digest(auth *model.PaymentAuthorization, d Domain) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(auth, d))
	if err != nil {
		return nil, fmt.Errorf("eip712 hash: %w", err)
	}
	return hash, nil
}

// RecoverSigner returns the address that produced auth.Signature. Both the
// 27/28 and 0/1 recovery id conventions are accepted.
func RecoverSigner(auth *model.PaymentAuthorization, d Domain) (common.Address, error) {
	if len(auth.Signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(auth.Signature))
	}
	hash, err := Digest(auth, d)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, SignatureLength)
	copy(sig, auth.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, auth.Signature[64])
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyAuthorization checks that auth was signed by auth.From.
func VerifyAuthorization(auth *model.PaymentAuthorization, d Domain) error {
	signer, err := RecoverSigner(auth, d)
	if err != nil {
		return err
	}
	if signer != auth.From {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrInvalidSignature, signer.Hex(), auth.From.Hex())
	}
	return nil
}

// SignAuthorization signs auth with key and stores the 27/28 style signature
// in auth.Signature. Used by clients and tests.
func SignAuthorization(auth *model.PaymentAuthorization, d Domain, key *ecdsa.PrivateKey) error {
	hash, err := Digest(auth, d)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return fmt.Errorf("sign authorization: %w", err)
	}
	sig[64] += 27
	auth.Signature = sig
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
