// Package signer produces OpenPGP signatures for exported acquisition files.
package signer

// Signer signs exported data files
type Signer interface {
	// SignDetached creates an armored detached signature (data.csv.asc)
	SignDetached(data []byte) ([]byte, error)

	// PublicKey returns the armored public key matching the signatures
	PublicKey() ([]byte, error)
}
