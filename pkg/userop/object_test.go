package userop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bigIntCmp = cmp.Comparer(func(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
})

func testOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(7),
		InitCode:             []byte{0xde, 0xad},
		CallData:             []byte{0xbe, 0xef},
		CallGasLimit:         big.NewInt(35000),
		VerificationGasLimit: big.NewInt(210000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(143357000802),
		MaxPriorityFeePerGas: big.NewInt(1087958838),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0x01},
	}
}

func TestMarshalUsesHexStrings(t *testing.T) {
	data, err := json.Marshal(testOp())
	require.NoError(t, err, "marshal should succeed")

	var wire map[string]string
	require.NoError(t, json.Unmarshal(data, &wire), "wire form should be flat hex strings")

	assert.Equal(t, "0x7", wire["nonce"], "nonce should encode as minimal hex")
	assert.Equal(t, "0xdead", wire["initCode"], "initCode should encode as hex bytes")
	assert.Equal(t, "0x", wire["paymasterAndData"], "empty bytes should encode as 0x")
}

func TestMarshalTreatsNilBigIntsAsZero(t *testing.T) {
	op := &UserOperation{
		Sender:           common.HexToAddress("0x1111111111111111111111111111111111111111"),
		InitCode:         []byte{},
		CallData:         []byte{},
		PaymasterAndData: []byte{},
		Signature:        []byte{},
	}

	data, err := json.Marshal(op)
	require.NoError(t, err, "marshal of zero-value op should succeed")

	var wire map[string]string
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "0x0", wire["nonce"], "nil nonce should encode as zero")
	assert.Equal(t, "0x0", wire["callGasLimit"], "nil gas limit should encode as zero")
}

func TestWireRoundTrip(t *testing.T) {
	op := testOp()
	data, err := json.Marshal(op)
	require.NoError(t, err, "marshal should succeed")

	var got UserOperation
	require.NoError(t, json.Unmarshal(data, &got), "unmarshal should succeed")

	assert.Empty(t, cmp.Diff(op, &got, bigIntCmp), "wire encoding should round-trip every field")
}

func TestUserOpHashIsDeterministic(t *testing.T) {
	ep := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	chain := big.NewInt(689)

	h1 := testOp().GetUserOpHash(ep, chain)
	h2 := testOp().GetUserOpHash(ep, chain)
	assert.Equal(t, h1, h2, "identical ops should hash identically")
}

func TestUserOpHashBindsAllInputs(t *testing.T) {
	ep := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	chain := big.NewInt(689)
	base := testOp().GetUserOpHash(ep, chain)

	bumped := testOp()
	bumped.Nonce = big.NewInt(8)
	assert.NotEqual(t, base, bumped.GetUserOpHash(ep, chain), "nonce change should change the hash")

	otherChain := testOp().GetUserOpHash(ep, big.NewInt(1))
	assert.NotEqual(t, base, otherChain, "chain id should be bound into the hash")

	otherEP := testOp().GetUserOpHash(common.HexToAddress("0x2222222222222222222222222222222222222222"), chain)
	assert.NotEqual(t, base, otherEP, "entry point should be bound into the hash")
}

func TestSignatureExcludedFromHash(t *testing.T) {
	ep := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	chain := big.NewInt(689)

	signed := testOp()
	signed.Signature = []byte{0xff, 0xff}
	assert.Equal(t, testOp().GetUserOpHash(ep, chain), signed.GetUserOpHash(ep, chain),
		"signature must not feed back into the hash it signs")
}
