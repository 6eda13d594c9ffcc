// Command maxi runs the vault-maxi, reinvest and balancer bots against a
// DeFiChain node.
//
// Usage:
//
//	maxi [-config path] run [-check-setup] [-min N] [-max N] [-lm-token T] [-lm-pair P] [-collateral C] [-ignore-skip]
//	maxi [-config path] check
//	maxi [-config path] daemon
//	maxi [-config path] set key=value...
//	maxi [-config path] set-seed word1 word2 ...
//	maxi [-config path] new-seed
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/defichain-maxi/maxi-go/bot"
	"github.com/defichain-maxi/maxi-go/config"
	"github.com/defichain-maxi/maxi-go/logger"
	"github.com/defichain-maxi/maxi-go/maxi"
	"github.com/defichain-maxi/maxi-go/metrics"
	"github.com/defichain-maxi/maxi-go/network"
	"github.com/defichain-maxi/maxi-go/notify"
	"github.com/defichain-maxi/maxi-go/program"
	"github.com/defichain-maxi/maxi-go/store"
	"github.com/defichain-maxi/maxi-go/tx"
	"github.com/defichain-maxi/maxi-go/wallet"
)

// logIDEnv names the variable whose value is appended to message prefixes.
const logIDEnv = "VAULTMAXI_LOGID"

var errUsage = errors.New("usage: maxi [-config path] run|check|daemon|set|set-seed|new-seed")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errFailedRun) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

var errFailedRun = errors.New("run did not complete")

func run(args []string) error {
	fs := flag.NewFlagSet("maxi", flag.ContinueOnError)
	cfgPath := fs.String("config", config.ConfigPath(config.DefaultDataDir()), "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	logger.Initialize(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "run":
		ev, err := parseEvent(rest)
		if err != nil {
			return err
		}
		return a.invoke(ctx, ev)
	case "check":
		return a.invoke(ctx, bot.Event{CheckSetup: true})
	case "daemon":
		return a.daemon(ctx)
	case "set":
		return a.set(rest)
	case "set-seed":
		return a.setSeed(rest)
	case "new-seed":
		return newSeed(os.Stdout, cfg.Network)
	}
	return errUsage
}

// parseEvent reads the per-invocation overrides of the run command.
func parseEvent(args []string) (bot.Event, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	checkSetup := fs.Bool("check-setup", false, "validate the settings and report the setup")
	var o bot.Override
	fs.Float64Var(&o.MinCollateralRatio, "min", 0, "minimum collateral ratio for this run")
	fs.Float64Var(&o.MaxCollateralRatio, "max", 0, "maximum collateral ratio for this run")
	fs.StringVar(&o.LMToken, "lm-token", "", "token paired with DUSD for this run")
	fs.StringVar(&o.LMPair, "lm-pair", "", "liquidity mining pair for this run")
	fs.StringVar(&o.MainCollateralAsset, "collateral", "", "main collateral asset for this run")
	fs.BoolVar(&o.IgnoreSkip, "ignore-skip", false, "run despite a pending skip request")
	if err := fs.Parse(args); err != nil {
		return bot.Event{}, err
	}
	ev := bot.Event{CheckSetup: *checkSetup}
	if o != (bot.Override{}) {
		ev.Override = &o
	}
	return ev, nil
}

// app is the wired process: one store, one endpoint rotation and one
// runner for the configured bot.
type app struct {
	cfg     config.Config
	store   *store.BoltStore
	chain   *network.Failover
	metrics *metrics.Metrics
	runner  *bot.Runner
}

func newApp(cfg config.Config) (*app, error) {
	st, err := store.OpenBoltStore(cfg.StorePath(), store.Options{
		Postfix:      cfg.StorePostfix,
		SeedKey:      os.Getenv("DEFICHAIN_SEED_KEY"),
		SeedPassword: os.Getenv(cfg.SeedPasswordEnv),
	})
	if err != nil {
		return nil, err
	}

	chain, err := newFailover(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	net, err := wallet.GetNetwork(cfg.Network)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	b, err := bot.NewBot(cfg.Bot)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if mb, ok := b.(*bot.MaxiBot); ok {
		mb.Peg = maxi.Peg{Reference: decimal.NewFromFloat(cfg.PegReference), MinDiff: decimal.NewFromFloat(cfg.MinPegDiff)}
	}
	m := metrics.New(prometheus.NewRegistry())

	factory := func(set *config.Settings, n notify.Notifier) (*program.Program, error) {
		chain.SetSwapAddress(set.Address)
		return program.New(program.Options{
			Settings: set,
			Store:    st,
			Chain:    chain,
			Notifier: n,
			Network:  net,
			Builder:  tx.BuilderConfig{StrictFees: cfg.StrictFees},
			Metrics:  m,
			Version:  b.Version(),
		})
	}
	return &app{
		cfg:     cfg,
		store:   st,
		chain:   chain,
		metrics: m,
		runner: &bot.Runner{
			Store:     st,
			Factory:   factory,
			Bot:       b,
			Endpoints: chain,
			Metrics:   m,
			Budget:    cfg.MaxRuntime,
			LogID:     os.Getenv(logIDEnv),
		},
	}, nil
}

// newFailover builds the endpoint rotation. The primary endpoint falls
// back to the local node preset of test networks.
func newFailover(cfg config.Config) (*network.Failover, error) {
	primary, err := network.ResolveConfig(&network.RPCConfig{
		URL:      cfg.RPC.URL,
		User:     cfg.RPC.User,
		Password: cfg.RPC.Password,
		Timeout:  cfg.RPC.Timeout,
	}, nil, cfg.Network)
	if err != nil {
		return nil, err
	}
	cfgs := []network.RPCConfig{*primary}
	for _, u := range cfg.RPC.Endpoints() {
		if u == primary.URL {
			continue
		}
		cfgs = append(cfgs, network.RPCConfig{
			URL:      u,
			User:     cfg.RPC.User,
			Password: cfg.RPC.Password,
			Network:  cfg.Network,
			Timeout:  primary.Timeout,
		})
	}
	return network.NewRPCFailover(cfgs...)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing store")
	}
}

func (a *app) invoke(ctx context.Context, ev bot.Event) error {
	res := a.runner.Run(ctx, ev)
	log.Info().Bool("ok", res.OK).Int("cycles", res.Cycles).Int("errors", res.Errors).Msg("invocation finished")
	if !res.OK {
		return errFailedRun
	}
	return nil
}

// set writes key=value pairs into the parameter store, under the
// instance's postfix.
func (a *app) set(args []string) error {
	if len(args) == 0 {
		return errors.New("set: need key=value")
	}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return fmt.Errorf("set: %q is not key=value", arg)
		}
		if err := a.store.UpdateSetting(key, value); err != nil {
			return err
		}
		log.Info().Str("key", a.store.Key(key)).Msg("setting stored")
	}
	return nil
}

// setSeed seals the seed words with the configured password.
func (a *app) setSeed(words []string) error {
	if len(words) == 1 {
		words = wallet.SplitSeed(words[0])
	}
	password := os.Getenv(a.cfg.SeedPasswordEnv)
	if password == "" {
		return fmt.Errorf("set-seed: %s is empty", a.cfg.SeedPasswordEnv)
	}
	if err := a.store.StoreSeed(words, password); err != nil {
		return err
	}
	log.Info().Int("words", len(words)).Msg("seed stored")
	return nil
}

// newSeed prints a fresh 24-word seed and the address of its first
// account. Nothing is stored.
func newSeed(w io.Writer, network string) error {
	net, err := wallet.GetNetwork(network)
	if err != nil {
		return err
	}
	words, err := wallet.GenerateMnemonic(wallet.Mnemonic24Words)
	if err != nil {
		return err
	}
	hd, err := wallet.FromWords(wallet.SplitSeed(words), net)
	if err != nil {
		return err
	}
	kp, err := hd.DeriveAccount(0)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "seed:    %s\naddress: %s\n", words, kp.Address)
	return err
}
