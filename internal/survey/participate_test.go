package survey

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherpoll/cipherpoll-client/internal/fhevm"
	"github.com/cipherpoll/cipherpoll-client/internal/handle"
)

// fakeBackend serves ABI-encoded view responses and records transactions.
type fakeBackend struct {
	info          *Info
	questions     []Question
	optionHandles map[[2]int]handle.Handle
	optionErrs    map[[2]int]bool

	calls   int
	sentTxs [][]byte
	grantOK bool
}

func newFakeBackend(questions []Question) *fakeBackend {
	return &fakeBackend{
		questions:     questions,
		optionHandles: map[[2]int]handle.Handle{},
		optionErrs:    map[[2]int]bool{},
		grantOK:       true,
	}
}

func (b *fakeBackend) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	b.calls++
	if len(data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}

	method, err := methodByID(surveyABI, data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "getQuestionCount":
		return method.Outputs.Pack(big.NewInt(int64(len(b.questions))))

	case "getQuestion":
		idx := int(args[0].(*big.Int).Int64())
		if idx >= len(b.questions) {
			return nil, fmt.Errorf("execution reverted: question index out of range")
		}
		q := b.questions[idx]
		return method.Outputs.Pack(q.Text, q.Type, q.Options, q.Required)

	case "getOptionCount":
		qi := int(args[0].(*big.Int).Int64())
		oi := int(args[1].(*big.Int).Int64())
		if b.optionErrs[[2]int{qi, oi}] {
			return nil, fmt.Errorf("execution reverted")
		}
		return method.Outputs.Pack([32]byte(b.optionHandles[[2]int{qi, oi}]))

	case "surveyInfo":
		info := b.info
		if info == nil {
			return nil, fmt.Errorf("no info configured")
		}
		return method.Outputs.Pack(
			common.HexToAddress(info.Creator), info.Title, info.Description,
			big.NewInt(info.StartTime), big.NewInt(info.EndTime),
			new(big.Int).SetUint64(info.MaxParticipants), [32]byte{},
			info.PrivacyLevel, info.AllowMultipleSubmissions, info.Active)

	default:
		return nil, fmt.Errorf("unexpected call %s", method.Name)
	}
}

func (b *fakeBackend) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	if len(data) >= 4 {
		if m, err := methodByID(surveyABI, data[:4]); err == nil && m.Name == "allowResultsDecryption" && !b.grantOK {
			return "", fmt.Errorf("execution reverted: not creator")
		}
	}
	b.sentTxs = append(b.sentTxs, data)
	return fmt.Sprintf("0xtx%d", len(b.sentTxs)), nil
}

func (b *fakeBackend) WaitMined(ctx context.Context, txHash string) (*Receipt, error) {
	return &Receipt{TxHash: txHash, Status: 1}, nil
}

func methodByID(parsed abi.ABI, id []byte) (*abi.Method, error) {
	for name := range parsed.Methods {
		m := parsed.Methods[name]
		if bytes.Equal(m.ID, id) {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("unknown method id %x", id)
}

func TestEncodeAnswerBitmask(t *testing.T) {
	// options {0,2} selected -> binary 101 -> 5
	assert.Equal(t, uint32(5), encodeAnswer(Answer{Selected: []int{0, 2}}, true))

	// selection order must not matter
	assert.Equal(t, uint32(5), encodeAnswer(Answer{Selected: []int{2, 0}}, true))

	// scalar passes through
	assert.Equal(t, uint32(3), encodeAnswer(Answer{Value: 3}, true))

	// absent encodes zero
	assert.Equal(t, uint32(0), encodeAnswer(Answer{}, false))

	// empty selection is a zero mask, not a scalar
	assert.Equal(t, uint32(0), encodeAnswer(Answer{Selected: []int{}, Value: 9}, true))
}

func TestSubmitEncodesInQuestionOrder(t *testing.T) {
	backend := newFakeBackend([]Question{
		{Text: "Q0", Type: QuestionSingleChoice, Options: []string{"a", "b"}},
		{Text: "Q1", Type: QuestionRating, Options: []string{"1", "2", "3", "4", "5"}},
	})
	s := NewSurvey(backend, "0x00000000000000000000000000000000000000aa", nil)
	inst := fhevm.NewMockInstance(31337)

	answers := Answers{0: {Value: 1}, 1: {Value: 5}}
	receipt, err := NewSubmitter(s, nil).Submit(context.Background(), inst, "0xUser", answers)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.Len(t, backend.sentTxs, 1)

	// decode the submitted handles and decrypt them through the same mock
	data := backend.sentTxs[0]
	method, err := methodByID(surveyABI, data[:4])
	require.NoError(t, err)
	require.Equal(t, "submitAnswers", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	rawHandles := args[0].([][32]byte)
	require.Len(t, rawHandles, 2)

	reqs := make([]fhevm.HandleRequest, len(rawHandles))
	for i, rh := range rawHandles {
		reqs[i] = fhevm.HandleRequest{Handle: handle.Handle(rh), ContractAddress: s.Address()}
	}
	values, err := inst.UserDecrypt(context.Background(), reqs, &fhevm.DecryptionSignature{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), values[handle.Handle(rawHandles[0]).Hex()].Int64())
	assert.Equal(t, int64(5), values[handle.Handle(rawHandles[1]).Hex()].Int64())
}

func TestSubmitAbsentAnswersEncodeZero(t *testing.T) {
	backend := newFakeBackend([]Question{
		{Text: "Q0"}, {Text: "Q1"}, {Text: "Q2"},
	})
	s := NewSurvey(backend, "0x00000000000000000000000000000000000000aa", nil)
	inst := fhevm.NewMockInstance(31337)

	// only the middle question answered
	_, err := NewSubmitter(s, nil).Submit(context.Background(), inst, "0xUser", Answers{1: {Value: 7}})
	require.NoError(t, err)

	data := backend.sentTxs[0]
	method, _ := methodByID(surveyABI, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	rawHandles := args[0].([][32]byte)
	require.Len(t, rawHandles, 3, "one handle per question, including unanswered")

	reqs := make([]fhevm.HandleRequest, len(rawHandles))
	for i, rh := range rawHandles {
		reqs[i] = fhevm.HandleRequest{Handle: handle.Handle(rh), ContractAddress: s.Address()}
	}
	values, err := inst.UserDecrypt(context.Background(), reqs, &fhevm.DecryptionSignature{})
	require.NoError(t, err)

	assert.Equal(t, int64(0), values[handle.Handle(rawHandles[0]).Hex()].Int64())
	assert.Equal(t, int64(7), values[handle.Handle(rawHandles[1]).Hex()].Int64())
	assert.Equal(t, int64(0), values[handle.Handle(rawHandles[2]).Hex()].Int64())
}

func TestSubmitNotReadyBeforeAnyNetworkCall(t *testing.T) {
	backend := newFakeBackend([]Question{{Text: "Q0"}})
	s := NewSurvey(backend, "0xaa", nil)

	_, err := NewSubmitter(s, nil).Submit(context.Background(), nil, "0xUser", Answers{})
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = NewSubmitter(s, nil).Submit(context.Background(), fhevm.NewMockInstance(31337), "", Answers{})
	assert.ErrorIs(t, err, ErrNotReady)

	assert.Zero(t, backend.calls, "readiness must be checked before any network call")
	assert.Empty(t, backend.sentTxs)
}
