// Package survey is the contract-facing layer: factory listing and creation,
// per-survey reads, encrypted answer submission, and result decryption.
package survey

import (
	"math/big"

	"github.com/cipherpoll/cipherpoll-client/internal/handle"
)

// Question types as encoded on the contract.
const (
	QuestionSingleChoice = 0
	QuestionMultiChoice  = 1
	QuestionRating       = 2
)

// Info mirrors the contract's surveyInfo view. The participant counter is a
// ciphertext on chain; only its handle-backed fields are meaningful here.
type Info struct {
	Creator                  string
	Title                    string
	Description              string
	StartTime                int64
	EndTime                  int64
	MaxParticipants          uint64
	PrivacyLevel             uint8
	AllowMultipleSubmissions bool
	Active                   bool
}

// Question is one survey question as stored on the contract.
type Question struct {
	Text     string
	Type     uint8
	Options  []string
	Required bool
}

// QuestionSpec is the creation-side shape passed to the factory.
type QuestionSpec struct {
	Text     string
	Type     uint8
	Options  []string
	Required bool
}

// Summary is one row of a survey listing.
type Summary struct {
	ID              string
	Address         string
	Title           string
	Creator         string
	Active          bool
	StartTime       int64
	EndTime         int64
	MaxParticipants uint64
}

// Answer is one question's response: either a scalar value or a set of
// selected option indices. Selected non-nil wins over Value.
type Answer struct {
	Value    uint32
	Selected []int
}

// Answers maps question index to answer. Absent indices encode as zero.
type Answers map[int]Answer

// QuestionResult carries one question's metadata, the ordered per-option
// ciphertext handles, and, after a decryption pass, the plaintext counts.
type QuestionResult struct {
	Question Question
	Handles  []handle.Handle
	Counts   []*big.Int
}
