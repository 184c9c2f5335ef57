package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nspcc-dev/nexa-sim/cli/input"
	"github.com/nspcc-dev/nexa-sim/cli/options"
	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/nspcc-dev/nexa-sim/pkg/core"
	"github.com/nspcc-dev/nexa-sim/pkg/core/block"
	"github.com/nspcc-dev/nexa-sim/pkg/pubsub"
	"github.com/nspcc-dev/nexa-sim/pkg/services/kafkarelay"
	"github.com/nspcc-dev/nexa-sim/pkg/services/metrics"
	"github.com/nspcc-dev/nexa-sim/pkg/services/query"
	"github.com/nspcc-dev/nexa-sim/pkg/services/stream"
	"github.com/nspcc-dev/nexa-sim/pkg/session"
	"github.com/nspcc-dev/nexa-sim/pkg/simulation"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// errChanSize is enough for every service to report its failure without
// blocking.
const errChanSize = 8

// readMinerName asks user for the miner name.
var readMinerName = input.ReadLine

// NewCommands returns 'node' and 'dump' commands.
func NewCommands() []cli.Command {
	var nodeFlags = simulationFlags()
	nodeFlags = append(nodeFlags, cli.StringFlag{
		Name:  "dump",
		Usage: "path to the ledger dump file written after simulation (overrides configuration)",
	})
	var dumpFlags = simulationFlags()
	dumpFlags = append(dumpFlags, cli.StringFlag{
		Name:  "out, o",
		Usage: "output file (DumpPath from configuration is used if not specified)",
	})
	return []cli.Command{
		{
			Name:      "node",
			Usage:     "Run the simulation serving events and ledger queries",
			UsageText: "nexa-sim node [--config-file file] [--debug] [--miner name] [--difficulty n] [--rounds n] [--dump file]",
			Action:    startServer,
			Flags:     nodeFlags,
		},
		{
			Name:      "dump",
			Usage:     "Run the simulation without any services and dump the resulting ledger",
			UsageText: "nexa-sim dump [--config-file file] [--debug] [--miner name] [--difficulty n] [--rounds n] [--out file]",
			Action:    dumpLedger,
			Flags:     dumpFlags,
		},
	}
}

func simulationFlags() []cli.Flag {
	return []cli.Flag{
		options.ConfigFile,
		options.Debug,
		cli.StringFlag{
			Name:  "miner",
			Usage: "miner name (asked for interactively if not set anywhere)",
		},
		cli.IntFlag{
			Name:  "difficulty",
			Usage: "number of leading zero hex characters in block hashes (overrides configuration)",
		},
		cli.IntFlag{
			Name:  "rounds",
			Usage: "number of blocks to mine, 0 means one per trader (overrides configuration)",
		},
	}
}

// getConfig loads configuration applying command line overrides.
func getConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return config.Config{}, err
	}
	sim := &cfg.SimulationConfiguration
	if miner := ctx.String("miner"); miner != "" {
		sim.Miner = miner
	}
	if ctx.IsSet("difficulty") {
		sim.Difficulty = ctx.Int("difficulty")
	}
	if ctx.IsSet("rounds") {
		sim.Rounds = ctx.Int("rounds")
	}
	if dump := ctx.String("dump"); dump != "" {
		cfg.ApplicationConfiguration.DumpPath = dump
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}

// resolveMiner returns miner name asking user for it if it's not configured.
func resolveMiner(name string, log *zap.Logger) string {
	if name != "" {
		return name
	}
	name, err := readMinerName("Enter the Miner Name: ")
	if err != nil {
		if !errors.Is(err, input.ErrNotTerminal) {
			log.Warn("failed to read miner name", zap.Error(err))
		}
		return config.DefaultMiner
	}
	if name == "" {
		return config.DefaultMiner
	}
	return name
}

func newGraceContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}

func initLogger(ctx *cli.Context, cfg config.Config) (*zap.Logger, *zap.AtomicLevel, func(), error) {
	log, level, closer, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.ApplicationConfiguration)
	if err != nil {
		return nil, nil, nil, err
	}
	return log, level, func() {
		_ = log.Sync()
		if closer != nil {
			_ = closer()
		}
	}, nil
}

func startServer(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, logLevel, logCloser, err := initLogger(ctx, cfg)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer logCloser()

	var (
		simCfg = cfg.SimulationConfiguration
		appCfg = cfg.ApplicationConfiguration
		grace  = newGraceContext()
		clock  = block.SystemClock{}
	)
	simCfg.Miner = resolveMiner(simCfg.Miner, log)

	ledger, err := core.NewLedger(simCfg.Difficulty, clock)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("could not initialize ledger: %w", err), 1)
	}
	bus := pubsub.New(simCfg.EventBufferSize, log)
	defer bus.Close()
	sessions := session.NewRegistry()
	errChan := make(chan error, errChanSize)

	prometheus := metrics.NewPrometheusService(appCfg.Prometheus, log)
	pprof := metrics.NewPprofService(appCfg.Pprof, log)
	relay := kafkarelay.New(appCfg.Kafka, bus, log)
	streamSrv := stream.New(appCfg.Streaming, bus, sessions, log, errChan)
	querySrv := query.New(appCfg.Query, ledger, sessions, log, errChan)

	prometheus.Start()
	pprof.Start()
	relay.Start()
	streamSrv.Start()
	querySrv.Start()

	sim := simulation.New(simCfg, ledger, bus, clock, log)
	simCtx, simCancel := context.WithCancel(grace)
	defer simCancel()
	simDone := make(chan error, 1)
	go func() { simDone <- sim.Run(simCtx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sighup)
	defer signal.Stop(sigCh)

	var (
		exitErr error
		serving = appCfg.Streaming.Enabled || appCfg.Query.Enabled
	)
Main:
	for {
		select {
		case err := <-errChan:
			log.Error("service failed", zap.Error(err))
			exitErr = fmt.Errorf("server error: %w", err)
			break Main
		case sig := <-sigCh:
			log.Info("signal received", zap.Stringer("name", sig))
			reloadLogLevel(ctx, logLevel, log)
		case err := <-simDone:
			simDone = nil
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					exitErr = fmt.Errorf("simulation failed: %w", err)
				}
				break Main
			}
			if err := finishSimulation(ctx.App.Writer, sim, ledger, appCfg.DumpPath); err != nil {
				exitErr = err
				break Main
			}
			if !serving {
				break Main
			}
			log.Info("simulation is over, services keep running, press Ctrl+C to stop")
		case <-grace.Done():
			break Main
		}
	}

	simCancel()
	if simDone != nil {
		<-simDone
	}
	streamSrv.Shutdown()
	querySrv.Shutdown()
	relay.Shutdown()
	pprof.ShutDown()
	prometheus.ShutDown()
	streamSrv.Wait()

	if exitErr != nil {
		return cli.NewExitError(exitErr, 1)
	}
	return nil
}

// reloadLogLevel rereads configuration and applies its log level.
func reloadLogLevel(ctx *cli.Context, level *zap.AtomicLevel, log *zap.Logger) {
	if ctx.Bool("debug") {
		log.Info("debug logging is forced, log level is not changed")
		return
	}
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		log.Warn("failed to reload configuration", zap.Error(err))
		return
	}
	newLevel := zapcore.InfoLevel
	if cfg.ApplicationConfiguration.LogLevel != "" {
		// Already validated by GetConfigFromContext.
		newLevel, _ = zapcore.ParseLevel(cfg.ApplicationConfiguration.LogLevel)
	}
	if newLevel != level.Level() {
		log.Info("changing log level", zap.Stringer("old", level.Level()), zap.Stringer("new", newLevel))
		level.SetLevel(newLevel)
	}
}

// finishSimulation reports simulation results and writes the ledger dump.
func finishSimulation(w io.Writer, sim *simulation.Simulator, ledger *core.Ledger, dumpPath string) error {
	sum := sim.Summary()
	fmt.Fprintf(w, "Total blocks added to the Nexa blockchain: %d\n", sum.TotalBlocks)
	fmt.Fprintf(w, "Total transactions: %d\n", sum.TotalTransactions)
	if sum.RoundsSkipped != 0 {
		fmt.Fprintf(w, "Rounds skipped: %d\n", sum.RoundsSkipped)
	}
	fmt.Fprintf(w, "Total Nexa traded: %d\n", sum.NexaTraded)
	fmt.Fprintf(w, "Simulation ended at %s\n", time.Now().UTC().Format(time.DateTime))

	if dumpPath == "" {
		return nil
	}
	if err := writeDump(dumpPath, ledger); err != nil {
		return err
	}
	fmt.Fprintf(w, "Blockchain saved to the %s file\n", dumpPath)
	return nil
}

func dumpLedger(ctx *cli.Context) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	out := ctx.String("out")
	if out == "" {
		out = cfg.ApplicationConfiguration.DumpPath
	}
	if out == "" {
		return cli.NewExitError(errors.New("no output file specified"), 1)
	}
	log, _, logCloser, err := initLogger(ctx, cfg)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer logCloser()

	clock := block.SystemClock{}
	ledger, err := core.NewLedger(cfg.SimulationConfiguration.Difficulty, clock)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("could not initialize ledger: %w", err), 1)
	}
	// Nobody listens, events are only logged.
	bus := pubsub.New(cfg.SimulationConfiguration.EventBufferSize, log)
	defer bus.Close()

	sim := simulation.New(cfg.SimulationConfiguration, ledger, bus, clock, log)
	if err := sim.Run(newGraceContext()); err != nil {
		return cli.NewExitError(fmt.Errorf("simulation failed: %w", err), 1)
	}
	if err := finishSimulation(ctx.App.Writer, sim, ledger, out); err != nil {
		return cli.NewExitError(err, 1)
	}
	return nil
}
