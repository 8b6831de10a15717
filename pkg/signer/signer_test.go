package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known hardhat dev key
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const devAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestNewDerivesAddress(t *testing.T) {
	eoa, err := New(devKey)
	require.NoError(t, err, "valid key should parse")
	assert.Equal(t, devAddr, eoa.Address.Hex(), "address should derive from the key")
}

func TestNewAccepts0xPrefix(t *testing.T) {
	eoa, err := New("0x" + devKey)
	require.NoError(t, err, "0x-prefixed key should parse")
	assert.Equal(t, devAddr, eoa.Address.Hex())
}

func TestNewRejectsGarbage(t *testing.T) {
	_, err := New("not-a-key")
	assert.Error(t, err, "malformed key must be rejected")
}
