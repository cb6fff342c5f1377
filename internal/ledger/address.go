package ledger

import (
	"crypto/ed25519"
	"errors"

	"github.com/algorand/go-algorand-sdk/v2/types"
)

var (
	ErrInvalidAddress   = errors.New("ledger: invalid address")
	ErrInvalidSignature = errors.New("ledger: invalid signature")
)

// AddressFromPublicKey returns the checksummed Algorand address of pub.
func AddressFromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ErrInvalidAddress
	}
	addr, err := types.EncodeAddress(pub)
	if err != nil {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

// Verify checks that st was signed by the key behind its sender address.
func Verify(st SignedTransfer) error {
	pub := ed25519.PublicKey(st.Txn.Sender[:])
	if !ed25519.Verify(pub, BytesToSign(st.Txn), st.Sig[:]) {
		return ErrInvalidSignature
	}
	return nil
}
