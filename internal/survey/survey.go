package survey

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/handle"
)

// Survey fronts one deployed survey contract.
type Survey struct {
	backend Backend
	address string
	log     *zap.SugaredLogger
}

func NewSurvey(backend Backend, address string, log *zap.SugaredLogger) *Survey {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Survey{backend: backend, address: address, log: log}
}

func (s *Survey) Address() string { return s.address }

// Info reads the surveyInfo view.
func (s *Survey) Info(ctx context.Context) (*Info, error) {
	values, err := callUnpack(ctx, s.backend, surveyABI, s.address, "surveyInfo")
	if err != nil {
		return nil, err
	}
	if len(values) < 10 {
		return nil, fmt.Errorf("surveyInfo: expected 10 values, got %d", len(values))
	}

	info := &Info{}
	if v, ok := values[0].(common.Address); ok {
		info.Creator = v.Hex()
	}
	info.Title, _ = values[1].(string)
	info.Description, _ = values[2].(string)
	if v, ok := values[3].(*big.Int); ok {
		info.StartTime = v.Int64()
	}
	if v, ok := values[4].(*big.Int); ok {
		info.EndTime = v.Int64()
	}
	if v, ok := values[5].(*big.Int); ok {
		info.MaxParticipants = v.Uint64()
	}
	// values[6] is the encrypted participant counter handle; not needed here.
	info.PrivacyLevel, _ = values[7].(uint8)
	info.AllowMultipleSubmissions, _ = values[8].(bool)
	info.Active, _ = values[9].(bool)
	return info, nil
}

// QuestionCount reads the declared question count.
func (s *Survey) QuestionCount(ctx context.Context) (int, error) {
	values, err := callUnpack(ctx, s.backend, surveyABI, s.address, "getQuestionCount")
	if err != nil {
		return 0, err
	}
	count, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("getQuestionCount: unexpected return type")
	}
	return int(count.Int64()), nil
}

// Question reads one question by index.
func (s *Survey) Question(ctx context.Context, index int) (*Question, error) {
	values, err := callUnpack(ctx, s.backend, surveyABI, s.address, "getQuestion",
		new(big.Int).SetInt64(int64(index)))
	if err != nil {
		return nil, err
	}
	if len(values) < 4 {
		return nil, fmt.Errorf("getQuestion: expected 4 values, got %d", len(values))
	}

	q := &Question{}
	q.Text, _ = values[0].(string)
	q.Type, _ = values[1].(uint8)
	q.Options, _ = values[2].([]string)
	q.Required, _ = values[3].(bool)
	return q, nil
}

// Questions enumerates questions from index 0 until the contract rejects the
// index, which signals the end of the list.
func (s *Survey) Questions(ctx context.Context) ([]Question, error) {
	var out []Question
	for i := 0; ; i++ {
		q, err := s.Question(ctx, i)
		if err != nil {
			if i == 0 {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
			}
			break
		}
		out = append(out, *q)
	}
	return out, nil
}

// OptionCount reads the ciphertext handle holding one option's encrypted tally.
func (s *Survey) OptionCount(ctx context.Context, questionIndex, optionIndex int) (handle.Handle, error) {
	values, err := callUnpack(ctx, s.backend, surveyABI, s.address, "getOptionCount",
		new(big.Int).SetInt64(int64(questionIndex)),
		new(big.Int).SetInt64(int64(optionIndex)))
	if err != nil {
		return handle.Handle{}, err
	}

	raw, ok := values[0].([32]byte)
	if !ok {
		return handle.Handle{}, fmt.Errorf("getOptionCount: unexpected return type")
	}
	return handle.Handle(raw), nil
}

// AllowResultsDecryption grants decryption access. Failure is reported but
// callers typically tolerate it since access may already be granted.
func (s *Survey) AllowResultsDecryption(ctx context.Context) error {
	data, err := surveyABI.Pack("allowResultsDecryption")
	if err != nil {
		return fmt.Errorf("pack allowResultsDecryption: %w", err)
	}

	txHash, err := s.backend.SendTransaction(ctx, s.address, data)
	if err != nil {
		return err
	}
	if _, err := s.backend.WaitMined(ctx, txHash); err != nil {
		return err
	}
	return nil
}
