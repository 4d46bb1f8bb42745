package survey

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/cipherpoll/cipherpoll-client/internal/fhevm"
	"github.com/cipherpoll/cipherpoll-client/internal/handle"
)

// ResultLoader drives the decryption flow for one survey's results: load the
// encrypted per-option tallies, obtain authorization, decrypt in one batch,
// and reconcile plaintexts back into per-question positions.
type ResultLoader struct {
	survey *Survey
	sigs   *fhevm.SignatureManager
	log    *zap.SugaredLogger
}

func NewResultLoader(s *Survey, sigs *fhevm.SignatureManager, log *zap.SugaredLogger) *ResultLoader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ResultLoader{survey: s, sigs: sigs, log: log}
}

// Load reads every question's metadata and per-option ciphertext handles.
// A failed per-option read degrades to the zero handle with a warning; the
// zero handle means "no stored ciphertext" and is never sent for decryption.
func (r *ResultLoader) Load(ctx context.Context) ([]QuestionResult, error) {
	questions, err := r.survey.Questions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	results := make([]QuestionResult, len(questions))
	for qi, q := range questions {
		handles := make([]handle.Handle, len(q.Options))
		for oi := range q.Options {
			h, err := r.survey.OptionCount(ctx, qi, oi)
			if err != nil {
				r.log.Warnw("option count read failed, substituting zero handle",
					"question", qi, "option", oi, "error", err)
				h = handle.Handle{}
			}
			handles[oi] = h
		}
		results[qi] = QuestionResult{Question: q, Handles: handles}
	}
	return results, nil
}

// handleTag records where a flattened handle came from so reconciliation is
// independent of response ordering.
type handleTag struct {
	question int
	option   int
}

// Decrypt runs the access grant, authorization, batched decryption, and
// reconciliation phases over previously loaded results. The input slice is
// not mutated; a failure at any phase leaves it usable and a full re-run is
// safe. Zero handles are skipped and their count is defined to be 0.
func (r *ResultLoader) Decrypt(ctx context.Context, inst fhevm.Instance, signer fhevm.TypedSigner, results []QuestionResult) ([]QuestionResult, error) {
	if inst == nil || signer == nil {
		return nil, ErrNotReady
	}

	// Access may already be granted; a failed grant is not fatal.
	if err := r.survey.AllowResultsDecryption(ctx); err != nil {
		r.log.Infow("decryption access grant failed, continuing", "error", err)
	}

	sig, err := r.sigs.LoadOrSign(ctx, inst, []string{r.survey.Address()}, signer)
	if err != nil {
		return nil, err
	}

	var requests []fhevm.HandleRequest
	var tags []handleTag
	for qi, qr := range results {
		for oi, h := range qr.Handles {
			if h.IsZero() {
				continue
			}
			requests = append(requests, fhevm.HandleRequest{
				Handle:          h,
				ContractAddress: r.survey.Address(),
			})
			tags = append(tags, handleTag{question: qi, option: oi})
		}
	}

	decrypted := map[string]*big.Int{}
	if len(requests) > 0 {
		decrypted, err = inst.UserDecrypt(ctx, requests, sig)
		if err != nil {
			return nil, fmt.Errorf("user decrypt: %w", err)
		}
	}

	out := make([]QuestionResult, len(results))
	for qi, qr := range results {
		counts := make([]*big.Int, len(qr.Handles))
		for oi := range counts {
			counts[oi] = big.NewInt(0)
		}
		out[qi] = QuestionResult{Question: qr.Question, Handles: qr.Handles, Counts: counts}
	}

	for i, req := range requests {
		tag := tags[i]
		if v, ok := decrypted[req.Handle.Hex()]; ok && v != nil {
			out[tag.question].Counts[tag.option] = new(big.Int).Set(v)
		}
	}
	return out, nil
}
