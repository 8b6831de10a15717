package account

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerochain/aa-client/pkg/paymaster"
	"github.com/nerochain/aa-client/pkg/signer"
)

var (
	testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	testSender     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testChainID    = big.NewInt(689)
)

// fakeBackend answers eth_call by method selector and serves a fixed code
// blob for the wallet address.
type fakeBackend struct {
	nonce      int64
	walletCode []byte
	callErr    error
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}

	selector := msg.Data[:4]
	switch {
	case bytes.Equal(selector, factoryABI.Methods["getAddress"].ID):
		return common.LeftPadBytes(testSender.Bytes(), 32), nil
	case bytes.Equal(selector, entryPointABI.Methods["getNonce"].ID):
		return common.LeftPadBytes(big.NewInt(f.nonce).Bytes(), 32), nil
	}
	return nil, errors.Errorf("unexpected call %x", selector)
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.walletCode, nil
}

type fakePaymasterRPC struct {
	lastCredential string
	lastPolicy     map[string]interface{}
}

func (f *fakePaymasterRPC) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	if method != "pm_sponsor_userop" {
		return errors.Errorf("unexpected method %s", method)
	}
	f.lastCredential, _ = args[1].(string)
	raw, _ := json.Marshal(args[3])
	_ = json.Unmarshal(raw, &f.lastPolicy)

	blob, _ := json.Marshal(map[string]string{"paymasterAndData": "0x1234"})
	return json.Unmarshal(blob, result)
}

func testEOA(t *testing.T) *signer.EOA {
	t.Helper()
	pk, err := crypto.GenerateKey()
	require.NoError(t, err, "key generation should succeed")
	return &signer.EOA{
		PrivateKey: pk,
		PublicKey:  &pk.PublicKey,
		Address:    crypto.PubkeyToAddress(pk.PublicKey),
	}
}

func flatGas(multiplier int) GasParams {
	fee := big.NewInt(100)
	if multiplier > 0 && multiplier != 100 {
		fee = big.NewInt(int64(multiplier))
	}
	return GasParams{
		CallGasLimit:         big.NewInt(35000),
		VerificationGasLimit: big.NewInt(210000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         fee,
		MaxPriorityFeePerGas: big.NewInt(10),
	}
}

func newTestBuilder(t *testing.T, backend *fakeBackend, pm *fakePaymasterRPC) *Builder {
	t.Helper()
	b, err := New(
		context.Background(),
		testEOA(t),
		backend,
		paymaster.NewClient(pm, testEntryPoint, logr.Discard()),
		testEntryPoint,
		testFactory,
		testChainID,
		flatGas,
		"ambient-key",
		logr.Discard(),
	)
	require.NoError(t, err, "builder construction should succeed")
	return b
}

func TestNewDerivesSenderFromFactory(t *testing.T) {
	b := newTestBuilder(t, &fakeBackend{}, &fakePaymasterRPC{})
	assert.Equal(t, testSender, b.Sender(), "sender should come from the factory getAddress call")
}

func TestInitCodeWhileUndeployed(t *testing.T) {
	b := newTestBuilder(t, &fakeBackend{walletCode: nil}, &fakePaymasterRPC{})

	initCode, err := b.initCode(context.Background())
	require.NoError(t, err, "init code derivation should succeed")

	require.Greater(t, len(initCode), 20, "undeployed wallet needs factory init code")
	assert.Equal(t, testFactory.Bytes(), initCode[:20], "init code should start with the factory address")
	assert.Equal(t, factoryABI.Methods["createAccount"].ID, initCode[20:24],
		"init code should continue with the createAccount call")
}

func TestInitCodeOnceDeployed(t *testing.T) {
	b := newTestBuilder(t, &fakeBackend{walletCode: []byte{0x60}}, &fakePaymasterRPC{})

	initCode, err := b.initCode(context.Background())
	require.NoError(t, err, "init code derivation should succeed")
	assert.Empty(t, initCode, "deployed wallet must not resend init code")
}

func TestExecuteAssemblesSponsoredOp(t *testing.T) {
	pm := &fakePaymasterRPC{}
	b := newTestBuilder(t, &fakeBackend{nonce: 7}, pm)

	target := common.HexToAddress("0x3333333333333333333333333333333333333333")
	op, err := b.Execute(context.Background(), target, nil, []byte{0xaa}, paymaster.SponsoredPolicy(""))
	require.NoError(t, err, "execution should assemble an op")

	assert.Equal(t, testSender, op.Sender, "op should originate from the wallet")
	assert.Equal(t, int64(7), op.Nonce.Int64(), "nonce should come from the entry point")
	assert.Equal(t, accountABI.Methods["execute"].ID, op.CallData[:4],
		"call data should be wrapped in the wallet execute call")
	assert.Equal(t, []byte{0x12, 0x34}, op.PaymasterAndData, "paymaster data should be attached")
	assert.Len(t, op.Signature, 65, "signature should be a full recoverable signature")
}

func TestExecuteFallsBackToAmbientCredential(t *testing.T) {
	pm := &fakePaymasterRPC{}
	b := newTestBuilder(t, &fakeBackend{}, pm)

	_, err := b.Execute(context.Background(), testSender, nil, []byte{}, paymaster.SponsoredPolicy(""))
	require.NoError(t, err)
	assert.Equal(t, "ambient-key", pm.lastCredential,
		"a policy without a credential should use the builder's ambient one")

	_, err = b.Execute(context.Background(), testSender, nil, []byte{}, paymaster.SponsoredPolicy("explicit"))
	require.NoError(t, err)
	assert.Equal(t, "explicit", pm.lastCredential, "an explicit policy credential should win")
}

func TestExecuteAppliesGasMultiplier(t *testing.T) {
	b := newTestBuilder(t, &fakeBackend{}, &fakePaymasterRPC{})

	policy := paymaster.Policy{Type: paymaster.Sponsored, GasMultiplier: 150}
	op, err := b.Execute(context.Background(), testSender, nil, []byte{}, policy)
	require.NoError(t, err, "execution with multiplier should succeed")
	assert.Equal(t, int64(150), op.MaxFeePerGas.Int64(), "fee multiplier should reach the gas source")
}

func TestSignatureRecoversToOwner(t *testing.T) {
	b := newTestBuilder(t, &fakeBackend{}, &fakePaymasterRPC{})

	op, err := b.Execute(context.Background(), testSender, nil, []byte{0x01}, paymaster.SponsoredPolicy(""))
	require.NoError(t, err, "execution should produce a signed op")

	opHash := op.GetUserOpHash(testEntryPoint, testChainID).Bytes()
	prefixed := crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(opHash), opHash)),
	)

	sig := make([]byte, 65)
	copy(sig, op.Signature)
	sig[64] -= 27

	pub, err := crypto.SigToPub(prefixed.Bytes(), sig)
	require.NoError(t, err, "signature should recover a public key")
	assert.Equal(t, b.Owner(), crypto.PubkeyToAddress(*pub), "signature must recover to the controlling key")

	s := new(big.Int).SetBytes(op.Signature[32:64])
	halfN := new(big.Int).Rsh(crypto.S256().Params().N, 1)
	assert.True(t, s.Cmp(halfN) <= 0, "signature S must be normalized to the lower half")
}

func TestExecuteSponsorFailurePropagates(t *testing.T) {
	failing := &failingPaymasterRPC{}
	b, err := New(
		context.Background(),
		testEOA(t),
		&fakeBackend{},
		paymaster.NewClient(failing, testEntryPoint, logr.Discard()),
		testEntryPoint,
		testFactory,
		testChainID,
		flatGas,
		"",
		logr.Discard(),
	)
	require.NoError(t, err)

	_, err = b.Execute(context.Background(), testSender, nil, []byte{}, paymaster.SponsoredPolicy(""))
	assert.Error(t, err, "a declined sponsorship must fail the operation")
}

type failingPaymasterRPC struct{}

func (failingPaymasterRPC) CallContext(context.Context, interface{}, string, ...interface{}) error {
	return errors.New("invalid apikey")
}
