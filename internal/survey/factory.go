package survey

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Factory fronts the survey factory contract: creation and listing.
type Factory struct {
	backend Backend
	address string
	log     *zap.SugaredLogger

	// now is swapped in tests to pin the creation start time.
	now func() time.Time
}

func NewFactory(backend Backend, address string, log *zap.SugaredLogger) *Factory {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Factory{backend: backend, address: address, log: log, now: time.Now}
}

// CreateParams describes a survey to deploy.
type CreateParams struct {
	Title           string
	Description     string
	EndTime         int64
	MaxParticipants uint64
	PrivacyLevel    uint8
	AllowMultiple   bool
	Questions       []QuestionSpec
}

type abiQuestion struct {
	QuestionText string   `abi:"questionText"`
	QuestionType uint8    `abi:"questionType"`
	Options      []string `abi:"options"`
	Required     bool     `abi:"required"`
}

// CreateResult reports a deployed survey.
type CreateResult struct {
	SurveyID      string
	SurveyAddress string
	TxHash        string
}

// CreateSurvey deploys a new survey and waits for confirmation. The start
// time is pushed one minute into the future so the contract's time check
// cannot reject a block timestamp slightly ahead of the client clock.
func (f *Factory) CreateSurvey(ctx context.Context, p CreateParams) (*CreateResult, error) {
	startTime := f.now().Unix() + 60

	questions := make([]abiQuestion, len(p.Questions))
	for i, q := range p.Questions {
		opts := q.Options
		if opts == nil {
			opts = []string{}
		}
		questions[i] = abiQuestion{
			QuestionText: q.Text,
			QuestionType: q.Type,
			Options:      opts,
			Required:     q.Required,
		}
	}

	data, err := factoryABI.Pack("createSurvey",
		p.Title,
		p.Description,
		new(big.Int).SetInt64(startTime),
		new(big.Int).SetInt64(p.EndTime),
		new(big.Int).SetUint64(p.MaxParticipants),
		p.PrivacyLevel,
		p.AllowMultiple,
		questions,
	)
	if err != nil {
		return nil, fmt.Errorf("pack createSurvey: %w", err)
	}

	txHash, err := f.backend.SendTransaction(ctx, f.address, data)
	if err != nil {
		return nil, fmt.Errorf("send createSurvey: %w", err)
	}
	f.log.Infow("createSurvey transaction sent", "tx", txHash)

	receipt, err := f.backend.WaitMined(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("await createSurvey: %w", err)
	}

	res := &CreateResult{SurveyID: "0", TxHash: txHash}
	if id, addr, ok := f.parseSurveyCreated(receipt); ok {
		res.SurveyID = id
		res.SurveyAddress = addr
	}

	f.log.Infow("survey created", "id", res.SurveyID, "address", res.SurveyAddress)
	return res, nil
}

// parseSurveyCreated scans receipt logs for the creation event.
func (f *Factory) parseSurveyCreated(receipt *Receipt) (id, addr string, ok bool) {
	eventID := factoryABI.Events["SurveyCreated"].ID.Hex()

	for _, lg := range receipt.Logs {
		if !strings.EqualFold(lg.Address, f.address) {
			continue
		}
		if len(lg.Topics) < 2 || !strings.EqualFold(lg.Topics[0], eventID) {
			continue
		}

		surveyID := new(big.Int).SetBytes(common.HexToHash(lg.Topics[1]).Bytes())
		if len(lg.Data) >= 32 {
			addr = common.BytesToAddress(lg.Data[12:32]).Hex()
		}
		return surveyID.String(), addr, true
	}
	return "", "", false
}

// Surveys lists deployed surveys using offset pagination. Per-survey detail
// failures skip the row instead of failing the page.
func (f *Factory) Surveys(ctx context.Context, offset, limit uint64) ([]Summary, error) {
	values, err := callUnpack(ctx, f.backend, factoryABI, f.address, "getSurveysPaginated",
		new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	return f.summarize(ctx, asAddresses(values[0]), offset), nil
}

// SurveysByCreator lists surveys deployed by creator.
func (f *Factory) SurveysByCreator(ctx context.Context, creator string) ([]Summary, error) {
	values, err := callUnpack(ctx, f.backend, factoryABI, f.address, "getSurveysByCreator",
		common.HexToAddress(creator))
	if err != nil {
		return nil, err
	}
	return f.summarize(ctx, asAddresses(values[0]), 0), nil
}

// SurveysByParticipant lists surveys the address has submitted to.
func (f *Factory) SurveysByParticipant(ctx context.Context, participant string) ([]Summary, error) {
	values, err := callUnpack(ctx, f.backend, factoryABI, f.address, "getSurveysByParticipant",
		common.HexToAddress(participant))
	if err != nil {
		return nil, err
	}
	return f.summarize(ctx, asAddresses(values[0]), 0), nil
}

// SurveyAddress resolves a survey's address by index.
func (f *Factory) SurveyAddress(ctx context.Context, index uint64) (string, error) {
	values, err := callUnpack(ctx, f.backend, factoryABI, f.address, "surveys",
		new(big.Int).SetUint64(index))
	if err != nil {
		return "", err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("surveys: unexpected return type")
	}
	return addr.Hex(), nil
}

func (f *Factory) summarize(ctx context.Context, addresses []string, offset uint64) []Summary {
	out := make([]Summary, 0, len(addresses))
	for i, addr := range addresses {
		s := NewSurvey(f.backend, addr, f.log)
		info, err := s.Info(ctx)
		if err != nil {
			f.log.Warnw("failed to load survey details, skipping", "address", addr, "error", err)
			continue
		}

		out = append(out, Summary{
			ID:              fmt.Sprintf("%d", offset+uint64(i)),
			Address:         addr,
			Title:           info.Title,
			Creator:         info.Creator,
			Active:          f.now().Unix() <= info.EndTime,
			StartTime:       info.StartTime,
			EndTime:         info.EndTime,
			MaxParticipants: info.MaxParticipants,
		})
	}
	return out
}
