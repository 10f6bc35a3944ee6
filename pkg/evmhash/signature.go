package evmhash

import (
	"crypto/ed25519"
	"encoding/hex"

	dErrors "sigil/pkg/domain-errors"
)

// AlgEd25519 is the only signature algorithm currently accepted for
// attestations, approvals and feed signatures.
const AlgEd25519 = "ed25519"

// Verifier checks a signature over a message with a given public key.
// The consensus evaluator depends on this interface so tests can substitute
// deterministic verifiers.
type Verifier interface {
	Verify(message []byte, sig string, pubKey string) error
}

// Ed25519Verifier verifies hex-encoded ed25519 signatures with hex-encoded
// public keys.
type Ed25519Verifier struct{}

// NewEd25519Verifier returns the production signature verifier.
func NewEd25519Verifier() Ed25519Verifier {
	return Ed25519Verifier{}
}

func (Ed25519Verifier) Verify(message []byte, sig string, pubKey string) error {
	rawKey, err := hex.DecodeString(pubKey)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "public key is not valid hex")
	}
	if len(rawKey) != ed25519.PublicKeySize {
		return dErrors.New(dErrors.CodeInvalidInput, "public key has wrong length")
	}
	rawSig, err := hex.DecodeString(sig)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "signature is not valid hex")
	}
	if !ed25519.Verify(ed25519.PublicKey(rawKey), message, rawSig) {
		return dErrors.New(dErrors.CodeForbidden, "signature does not verify")
	}
	return nil
}

// Sign produces a hex-encoded ed25519 signature over message. Used by feed
// sources and by tests constructing node attestations.
func Sign(priv ed25519.PrivateKey, message []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, message))
}

// PubKeyHex renders an ed25519 public key in the hex form carried on the
// wire.
func PubKeyHex(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
