package feed

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	dErrors "sigil/pkg/domain-errors"
	"sigil/pkg/evmhash"
)

// Signer signs feed payloads with the externally supplied feed key so
// policy-engine nodes can verify provenance. The key arrives via
// configuration; nothing cryptographic is compiled in.
type Signer struct {
	priv ed25519.PrivateKey
	pub  string
}

// NewSigner builds a Signer from a hex-encoded ed25519 seed.
func NewSigner(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "feed key seed is not valid hex")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "feed key seed has wrong length")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		priv: priv,
		pub:  evmhash.PubKeyHex(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// Sign wraps a payload into a signed Feed for the named source.
func (s *Signer) Sign(source string, data json.RawMessage) (Feed, error) {
	digest, err := evmhash.Sum(data)
	if err != nil {
		return Feed{}, err
	}
	return Feed{
		Source: source,
		Sig:    evmhash.Sign(s.priv, digest),
		PubKey: s.pub,
		Data:   data,
	}, nil
}
