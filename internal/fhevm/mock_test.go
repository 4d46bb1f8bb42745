package fhevm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockInstanceEncryptDecryptRoundTrip(t *testing.T) {
	inst := NewMockInstance(31337)

	builder := inst.CreateEncryptedInput("0xSurvey", "0xUser")
	builder.Add32(1)
	builder.Add32(5)

	batch, err := builder.Encrypt(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Handles, 2)
	assert.NotEmpty(t, batch.Proof)
	assert.False(t, batch.Handles[0].IsZero())
	assert.NotEqual(t, batch.Handles[0], batch.Handles[1])

	sig := &DecryptionSignature{UserAddress: "0xuser"}
	out, err := inst.UserDecrypt(context.Background(), []HandleRequest{
		{Handle: batch.Handles[0], ContractAddress: "0xSurvey"},
		{Handle: batch.Handles[1], ContractAddress: "0xSurvey"},
	}, sig)
	require.NoError(t, err)

	assert.Equal(t, int64(1), out[batch.Handles[0].Hex()].Int64())
	assert.Equal(t, int64(5), out[batch.Handles[1].Hex()].Int64())
}

func TestMockInstanceUnknownHandleDecryptsToZero(t *testing.T) {
	inst := NewMockInstance(31337)

	var unknown HandleRequest
	unknown.ContractAddress = "0xSurvey"
	unknown.Handle[31] = 9

	out, err := inst.UserDecrypt(context.Background(), []HandleRequest{unknown}, &DecryptionSignature{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), out[unknown.Handle.Hex()].Int64())
}

func TestMockInstanceDistinctHandlesForEqualValues(t *testing.T) {
	inst := NewMockInstance(31337)

	builder := inst.CreateEncryptedInput("0xSurvey", "0xUser")
	builder.Add32(7)
	builder.Add32(7)

	batch, err := builder.Encrypt(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, batch.Handles[0], batch.Handles[1], "equal plaintexts must not share a handle")
}

func TestMockInstanceKeypairGeneration(t *testing.T) {
	inst := NewMockInstance(31337)

	kp, err := inst.GenerateKeypair()
	require.NoError(t, err)
	assert.NotEmpty(t, kp.PublicKey)
	assert.NotEmpty(t, kp.PrivateKey)
	assert.NotEqual(t, kp.PublicKey, kp.PrivateKey)
}

func TestMockInstanceEIP712Shape(t *testing.T) {
	inst := NewMockInstance(31337)

	typed := inst.CreateEIP712("0xpub", []string{"0xSurvey"}, 1000, 365)
	assert.Equal(t, "UserDecryptRequestVerification", typed.PrimaryType)
	assert.Equal(t, "Decryption", typed.Domain.Name)
	assert.Equal(t, "1", typed.Domain.Version)
	require.Contains(t, typed.Types, "UserDecryptRequestVerification")
	assert.Len(t, typed.Types["UserDecryptRequestVerification"], 4)
}

func TestMockInstanceEncryptRespectsCancellation(t *testing.T) {
	inst := NewMockInstance(31337)

	builder := inst.CreateEncryptedInput("0xSurvey", "0xUser")
	builder.Add32(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := builder.Encrypt(ctx)
	assert.Error(t, err)
}
