// Package evmhash produces the canonical hash that binds signatures to an
// authorization payload, and verifies signatures over it.
//
// The hash is keccak256 over a deterministic JSON rendering of the payload.
// Every party in the pipeline (requester, approvers, policy-engine nodes,
// feed signers) signs this same hash, so any mutation of the original
// request invalidates all collected signatures at once.
package evmhash

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Sum returns the keccak256 digest of the canonical JSON form of v.
//
// encoding/json marshals struct fields in declaration order and map keys
// sorted, which is deterministic for the fixed payload types used in this
// repo. Callers must hash typed values, never raw maps built from user input.
func Sum(v any) ([]byte, error) {
	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical payload: %w", err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(canonical)
	return h.Sum(nil), nil
}

// HexSum returns Sum encoded as a lowercase hex string with no prefix.
func HexSum(v any) (string, error) {
	digest, err := Sum(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest), nil
}
