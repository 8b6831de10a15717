// Package signer wraps the EOA key controlling the abstracted wallet.
package signer

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// EOA is the externally owned account whose key signs user operations.
type EOA struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
	Address    common.Address
}

// New parses a hex-encoded private key into an EOA.
func New(privateKey string) (*EOA, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	publicKey, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ECDSA")
	}

	return &EOA{
		PrivateKey: pk,
		PublicKey:  publicKey,
		Address:    crypto.PubkeyToAddress(*publicKey),
	}, nil
}
