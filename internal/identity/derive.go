package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeriveAddress returns the address for a principal name: the hex SHA-256 of
// the name. The same name always yields the same address.
func DeriveAddress(principal string) string {
	h := sha256.Sum256([]byte(principal))
	return hex.EncodeToString(h[:])
}

// DeriveToken returns the file token binding fingerprint to address.
// The concatenation order is fingerprint then address and must not change:
// tokens already recorded in ledgers depend on it.
//
// A token is only meaningful together with the ledger block it was recorded
// in; validity is checked against the ledger, never by re-deriving.
func DeriveToken(fingerprint, address string) string {
	h := sha256.Sum256([]byte(fingerprint + address))
	return hex.EncodeToString(h[:])
}
