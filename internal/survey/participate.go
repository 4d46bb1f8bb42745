package survey

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/fhevm"
)

// ErrNotReady reports that the engine or session is missing. It is raised
// before any network call is made.
var ErrNotReady = errors.New("engine or session not ready")

// SubmissionError wraps a ledger or network failure during answer submission.
// The underlying failure propagates unwrapped-able and untouched; there is no
// automatic retry because resubmission risks double-counting.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("answer submission failed: %v", e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// encodeAnswer folds one answer into its on-wire integer: a selected-index
// set becomes a bitmask with bit k set iff option k is selected, a scalar
// passes through, an absent answer is zero.
func encodeAnswer(a Answer, present bool) uint32 {
	if !present {
		return 0
	}
	if a.Selected != nil {
		var mask uint32
		for _, k := range a.Selected {
			if k >= 0 && k < 32 {
				mask |= 1 << uint(k)
			}
		}
		return mask
	}
	return a.Value
}

// Submitter encrypts and submits one participant's answers.
type Submitter struct {
	survey *Survey
	log    *zap.SugaredLogger
}

func NewSubmitter(s *Survey, log *zap.SugaredLogger) *Submitter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Submitter{survey: s, log: log}
}

// Submit encodes answers in question-index order into one encrypted-input
// batch and invokes the contract's submission entry point. The batch position
// of each answer equals its question index; indices absent from answers
// encode as zero.
func (s *Submitter) Submit(ctx context.Context, inst fhevm.Instance, userAddress string, answers Answers) (*Receipt, error) {
	if inst == nil || userAddress == "" {
		return nil, ErrNotReady
	}

	count, err := s.survey.QuestionCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("question count: %w", err)
	}

	builder := inst.CreateEncryptedInput(s.survey.Address(), userAddress)
	for i := 0; i < count; i++ {
		a, present := answers[i]
		builder.Add32(encodeAnswer(a, present))
	}

	batch, err := builder.Encrypt(ctx)
	if err != nil {
		return nil, fmt.Errorf("encrypt answers: %w", err)
	}

	rawHandles := make([][32]byte, len(batch.Handles))
	for i, h := range batch.Handles {
		rawHandles[i] = [32]byte(h)
	}

	data, err := surveyABI.Pack("submitAnswers", rawHandles, batch.Proof)
	if err != nil {
		return nil, fmt.Errorf("pack submitAnswers: %w", err)
	}

	txHash, err := s.survey.backend.SendTransaction(ctx, s.survey.Address(), data)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}
	s.log.Infow("answers submitted", "survey", s.survey.Address(), "tx", txHash)

	receipt, err := s.survey.backend.WaitMined(ctx, txHash)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}
	return receipt, nil
}
