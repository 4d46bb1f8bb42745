package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	clientconfig "github.com/cipherpoll/cipherpoll-client/cmd/cipherpoll-client/config"
	"github.com/cipherpoll/cipherpoll-client/internal/constants"
	"github.com/cipherpoll/cipherpoll-client/internal/fhevm"
	"github.com/cipherpoll/cipherpoll-client/internal/kvstore"
	"github.com/cipherpoll/cipherpoll-client/internal/networks"
	"github.com/cipherpoll/cipherpoll-client/internal/provider"
	"github.com/cipherpoll/cipherpoll-client/internal/provider/localwallet"
	"github.com/cipherpoll/cipherpoll-client/internal/session"
	"github.com/cipherpoll/cipherpoll-client/internal/survey"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// app wires the client stack for one command invocation.
type app struct {
	log      *zap.SugaredLogger
	cfg      *clientconfig.Config
	networks *networks.Manager
	bus      *provider.Bus
	registry *provider.Registry
	session  *session.Manager
	wallet   *localwallet.Wallet
	loader   *fhevm.Loader
	keyCache *fhevm.KeyCache
	sigs     *fhevm.SignatureManager
}

func newApp(ctx context.Context) (*app, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	log := logger.Sugar()

	cfg, err := clientconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	netMgr, err := networks.NewManager()
	if err != nil {
		return nil, err
	}
	if err := netMgr.EnsureFromConfig(cfg.DefaultNetworks()); err != nil {
		return nil, fmt.Errorf("ensure networks: %w", err)
	}

	bus := provider.NewBus()
	registry := provider.NewRegistry(bus, log)

	sessionStore, err := kvstore.NewFile(constants.SessionFile)
	if err != nil {
		return nil, err
	}

	waitWindow := time.Duration(cfg.ClientSettings.ReconnectWaitSeconds) * time.Second
	sess := session.NewManager(registry, sessionStore, log,
		session.WithReconnectWaitWindow(waitWindow))

	a := &app{
		log:      log,
		cfg:      cfg,
		networks: netMgr,
		bus:      bus,
		registry: registry,
		session:  sess,
		loader:   fhevm.NewLoader(cfg.ClientSettings.SDKBundleURL, log),
	}

	a.keyCache, err = fhevm.NewDefaultKeyCache(log)
	if err != nil {
		return nil, err
	}

	password := keystorePassword()

	sigStore, err := kvstore.NewEncryptedDefault(constants.SigCacheFile, password, constants.SigCacheAAD)
	if err != nil {
		return nil, err
	}
	a.sigs = fhevm.NewSignatureManager(sigStore, log)

	if err := a.announceLocalWallet(password); err != nil {
		return nil, err
	}
	return a, nil
}

// announceLocalWallet opens the encrypted keystore and publishes the
// in-process wallet on the provider bus.
func (a *app) announceLocalWallet(password []byte) error {
	list, err := a.networks.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("no networks configured")
	}
	initial := list[0]
	for _, n := range list {
		if n.Mock {
			initial = n
			break
		}
	}

	ks, err := localwallet.NewKeystore()
	if err != nil {
		return err
	}
	rec, err := ks.Ensure(password)
	if err != nil {
		return err
	}

	a.wallet, err = localwallet.New(rec, a.networks, initial, a.log)
	if err != nil {
		return err
	}
	a.wallet.Announce(a.bus)
	return nil
}

// keystorePassword reads the keystore password from the environment or the
// terminal.
func keystorePassword() []byte {
	if p := os.Getenv("CIPHERPOLL_PASSWORD"); p != "" {
		return []byte(p)
	}
	fmt.Fprint(os.Stderr, "keystore password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return []byte{}
	}
	return pw
}

// ensureConnected reconnects silently, then falls back to a direct connect to
// the named (or first) provider.
func (a *app) ensureConnected(ctx context.Context, providerName string) error {
	_ = a.session.AutoReconnect(ctx)
	if a.session.Status() == session.StatusConnected {
		return nil
	}

	providers := a.registry.Providers()
	if len(providers) == 0 {
		return fmt.Errorf("no wallet providers announced")
	}

	chosen := providers[0]
	if providerName != "" {
		found := false
		for _, d := range providers {
			if strings.EqualFold(d.Name, providerName) {
				chosen = d
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("provider %q not announced", providerName)
		}
	}
	return a.session.Connect(ctx, chosen)
}

// currentNetwork resolves the session chain against the network registry.
func (a *app) currentNetwork() (networks.Network, error) {
	chainID := a.session.ChainID()
	n, found, err := a.networks.FindByChainID(chainID)
	if err != nil {
		return networks.Network{}, err
	}
	if !found {
		return networks.Network{}, fmt.Errorf("chain %d not in networks.json", chainID)
	}
	return n, nil
}

// engine bootstraps an encryption engine instance for the current chain.
func (a *app) engine(ctx context.Context) (fhevm.Instance, error) {
	n, err := a.currentNetwork()
	if err != nil {
		return nil, err
	}
	return fhevm.CreateInstance(ctx, fhevm.Config{
		Network:  n,
		KeyCache: a.keyCache,
		Loader:   a.loader,
		Log:      a.log,
		OnStatus: func(s fhevm.Status) { a.log.Infow("engine bootstrap", "status", string(s)) },
	})
}

func (a *app) factory(ctx context.Context) (*survey.Factory, error) {
	n, err := a.currentNetwork()
	if err != nil {
		return nil, err
	}
	if n.FactoryAddress == "" {
		return nil, fmt.Errorf("no survey factory deployed on %s", n.Name)
	}
	backend := survey.NewBackend(a.session.Provider(), a.session.Address())
	return survey.NewFactory(backend, n.FactoryAddress, a.log), nil
}

func (a *app) surveyAt(address string) *survey.Survey {
	backend := survey.NewBackend(a.session.Provider(), a.session.Address())
	return survey.NewSurvey(backend, address, a.log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "cipherpoll",
		Short:         "Privacy-preserving survey client",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var providerName string
	root.PersistentFlags().StringVar(&providerName, "provider", "", "wallet provider name to connect with")

	root.AddCommand(
		providersCmd(ctx),
		connectCmd(ctx, &providerName),
		disconnectCmd(ctx),
		switchChainCmd(ctx, &providerName),
		surveysCmd(ctx, &providerName),
		createCmd(ctx, &providerName),
		submitCmd(ctx, &providerName),
		resultsCmd(ctx, &providerName),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func providersCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List announced wallet providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			for _, d := range a.registry.Providers() {
				fmt.Printf("%s\t%s\t%s\n", d.UUID, d.Name, d.RDNS)
			}
			return nil
		},
	}
}

func connectCmd(ctx context.Context, providerName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect a wallet session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.ensureConnected(ctx, *providerName); err != nil {
				var rejected *session.ConnectionRejectedError
				if errors.As(err, &rejected) {
					return fmt.Errorf("connection rejected: %w", rejected.Err)
				}
				return err
			}
			snap := a.session.Snapshot()
			fmt.Printf("connected %s on chain %d\n", snap.Address, snap.ChainID)
			return nil
		},
	}
}

func disconnectCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect and clear the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			a.session.Disconnect()
			fmt.Println("disconnected")
			return nil
		},
	}
}

func switchChainCmd(ctx context.Context, providerName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-chain <chain-id>",
		Short: "Switch the session to another configured chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad chain id %q", args[0])
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.ensureConnected(ctx, *providerName); err != nil {
				return err
			}

			if err := a.session.SwitchChain(ctx, chainID); err != nil {
				var notConfigured *session.ChainNotConfiguredError
				if errors.As(err, &notConfigured) {
					return fmt.Errorf("chain %d is not configured in the wallet", chainID)
				}
				return err
			}
			fmt.Printf("switched to chain %d\n", chainID)
			return nil
		},
	}
}

func surveysCmd(ctx context.Context, providerName *string) *cobra.Command {
	var offset, limit uint64
	var mine, participations bool

	cmd := &cobra.Command{
		Use:   "surveys",
		Short: "List surveys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.ensureConnected(ctx, *providerName); err != nil {
				return err
			}
			f, err := a.factory(ctx)
			if err != nil {
				return err
			}

			var list []survey.Summary
			switch {
			case mine:
				list, err = f.SurveysByCreator(ctx, a.session.Address())
			case participations:
				list, err = f.SurveysByParticipant(ctx, a.session.Address())
			default:
				list, err = f.Surveys(ctx, offset, limit)
			}
			if err != nil {
				return err
			}

			for _, s := range list {
				status := "ended"
				if s.Active {
					status = "active"
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", s.ID, s.Address, status, s.Title)
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&offset, "offset", 0, "pagination offset")
	cmd.Flags().Uint64Var(&limit, "limit", 20, "pagination limit")
	cmd.Flags().BoolVar(&mine, "mine", false, "list surveys you created")
	cmd.Flags().BoolVar(&participations, "participations", false, "list surveys you answered")
	return cmd
}

type questionFile struct {
	Text     string   `json:"text"`
	Type     uint8    `json:"type"`
	Options  []string `json:"options"`
	Required bool     `json:"required"`
}

func createCmd(ctx context.Context, providerName *string) *cobra.Command {
	var title, description, questionsPath string
	var endTime int64
	var maxParticipants uint64
	var privacyLevel uint8
	var allowMultiple bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new survey",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(questionsPath)
			if err != nil {
				return fmt.Errorf("read questions file: %w", err)
			}
			var qs []questionFile
			if err := json.Unmarshal(raw, &qs); err != nil {
				return fmt.Errorf("parse questions file: %w", err)
			}
			specs := make([]survey.QuestionSpec, len(qs))
			for i, q := range qs {
				specs[i] = survey.QuestionSpec{Text: q.Text, Type: q.Type, Options: q.Options, Required: q.Required}
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.ensureConnected(ctx, *providerName); err != nil {
				return err
			}
			f, err := a.factory(ctx)
			if err != nil {
				return err
			}

			res, err := f.CreateSurvey(ctx, survey.CreateParams{
				Title:           title,
				Description:     description,
				EndTime:         endTime,
				MaxParticipants: maxParticipants,
				PrivacyLevel:    privacyLevel,
				AllowMultiple:   allowMultiple,
				Questions:       specs,
			})
			if err != nil {
				return err
			}
			fmt.Printf("survey %s created at %s (tx %s)\n", res.SurveyID, res.SurveyAddress, res.TxHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "survey title")
	cmd.Flags().StringVar(&description, "description", "", "survey description")
	cmd.Flags().Int64Var(&endTime, "end", 0, "end time (unix seconds)")
	cmd.Flags().Uint64Var(&maxParticipants, "max", 100, "maximum participants")
	cmd.Flags().Uint8Var(&privacyLevel, "privacy", 0, "privacy level")
	cmd.Flags().BoolVar(&allowMultiple, "multiple", false, "allow multiple submissions")
	cmd.Flags().StringVar(&questionsPath, "questions", "", "path to questions JSON file")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("end")
	_ = cmd.MarkFlagRequired("questions")
	return cmd
}

// parseAnswers decodes {"0": [0,2], "1": 5} into the answer map.
func parseAnswers(raw string) (survey.Answers, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("parse answers: %w", err)
	}

	answers := survey.Answers{}
	for k, v := range generic {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad question index %q", k)
		}

		var selected []int
		if err := json.Unmarshal(v, &selected); err == nil {
			answers[idx] = survey.Answer{Selected: selected}
			continue
		}
		var scalar uint32
		if err := json.Unmarshal(v, &scalar); err != nil {
			return nil, fmt.Errorf("answer %q must be a number or an index array", k)
		}
		answers[idx] = survey.Answer{Value: scalar}
	}
	return answers, nil
}

func submitCmd(ctx context.Context, providerName *string) *cobra.Command {
	var surveyAddr, answersJSON string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Encrypt and submit answers to a survey",
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := parseAnswers(answersJSON)
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.ensureConnected(ctx, *providerName); err != nil {
				return err
			}

			inst, err := a.engine(ctx)
			if err != nil {
				return err
			}

			s := a.surveyAt(surveyAddr)
			receipt, err := survey.NewSubmitter(s, a.log).Submit(ctx, inst, a.session.Address(), answers)
			if err != nil {
				return err
			}
			fmt.Printf("answers submitted in tx %s\n", receipt.TxHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&surveyAddr, "survey", "", "survey contract address")
	cmd.Flags().StringVar(&answersJSON, "answers", "", `answers JSON, e.g. {"0":[0,2],"1":5}`)
	_ = cmd.MarkFlagRequired("survey")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func resultsCmd(ctx context.Context, providerName *string) *cobra.Command {
	var surveyAddr string
	var decrypt bool

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Load survey results, optionally decrypting the tallies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.ensureConnected(ctx, *providerName); err != nil {
				return err
			}

			s := a.surveyAt(surveyAddr)
			loader := survey.NewResultLoader(s, a.sigs, a.log)

			results, err := loader.Load(ctx)
			if err != nil {
				return err
			}

			if decrypt {
				inst, err := a.engine(ctx)
				if err != nil {
					return err
				}
				results, err = loader.Decrypt(ctx, inst, a.session, results)
				if err != nil {
					return err
				}
			}

			for qi, qr := range results {
				fmt.Printf("Q%d: %s\n", qi, qr.Question.Text)
				for oi, opt := range qr.Question.Options {
					if qr.Counts != nil {
						fmt.Printf("  [%d] %s: %s\n", oi, opt, qr.Counts[oi].String())
					} else {
						fmt.Printf("  [%d] %s: %s\n", oi, opt, qr.Handles[oi].Hex())
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&surveyAddr, "survey", "", "survey contract address")
	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "request decryption of the tallies")
	_ = cmd.MarkFlagRequired("survey")
	return cmd
}
