package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/stagelink/internal/clock"
	"github.com/genricoloni/stagelink/internal/config"
	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/engine"
	"github.com/genricoloni/stagelink/internal/remote"
	"github.com/genricoloni/stagelink/internal/stage"
	"github.com/genricoloni/stagelink/internal/transport"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Flags are the command line options
type Flags struct {
	ConfigPath string
	Host       string
	Port       int
	Version    int
	Verbose    bool
}

// AppOptions wires the application. Flags must be supplied alongside.
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		newConfig,
		newDialer,
		clock.Real,
		fx.Annotate(newStageClient, fx.As(new(engine.StageSource))),
		fx.Annotate(newRemoteClient, fx.As(new(engine.RemoteSource))),
		engine.NewEngine,
	),
	fx.Invoke(registerHooks),
)

func main() {
	flags, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	app := fx.New(
		fx.Supply(flags),
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (Flags, error) {
	var flags Flags
	flagSet := pflag.NewFlagSet("stagelink", pflag.ContinueOnError)
	flagSet.StringVarP(&flags.ConfigPath, "config", "c", config.DefaultPath, "path to the TOML config file")
	flagSet.StringVar(&flags.Host, "host", "", "engine host (overrides config and STAGELINK_HOST)")
	flagSet.IntVarP(&flags.Port, "port", "p", 0, "engine port (overrides config and STAGELINK_PORT)")
	flagSet.IntVar(&flags.Version, "pro-version", 0, "engine major version used for the protocol handshake")
	flagSet.BoolVarP(&flags.Verbose, "verbose", "v", false, "log at debug level, including every frame")

	if err := flagSet.Parse(args); err != nil {
		return Flags{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return Flags{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return flags, nil
}

// newLogger creates a new zap logger instance
func newLogger(flags Flags) (*zap.Logger, error) {
	if flags.Verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newConfig(flags Flags, logger *zap.Logger) (config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Apply(config.Overrides{Host: flags.Host, Port: flags.Port, Version: flags.Version}); err != nil {
		return config.Config{}, err
	}
	cfg.Log(logger)
	return cfg, nil
}

func newDialer(logger *zap.Logger) domain.Dialer {
	return transport.NewWebSocketDialer(logger, transport.DefaultReadLimit)
}

func newStageClient(logger *zap.Logger, cfg config.Config, dialer domain.Dialer, clk clock.Clock) *stage.Client {
	return stage.NewClient(logger, stage.Options{
		Host:         cfg.Host,
		Port:         cfg.StagePort(),
		Password:     cfg.Stage.Password,
		Version:      cfg.Version,
		CloseBackoff: cfg.CloseBackoff,
		ErrorBackoff: cfg.ErrorBackoff,
	}, dialer, clk)
}

func newRemoteClient(logger *zap.Logger, cfg config.Config, dialer domain.Dialer, clk clock.Clock) *remote.Client {
	return remote.NewClient(logger, remote.Options{
		Host:         cfg.Host,
		Port:         cfg.RemotePort(),
		Password:     cfg.Remote.Password,
		Version:      cfg.Version,
		CloseBackoff: cfg.CloseBackoff,
		ErrorBackoff: cfg.ErrorBackoff,
	}, dialer, clk)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, eng *engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Stagelink started")
			return eng.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			err := eng.Stop(ctx)
			_ = logger.Sync()
			return err
		},
	})
}
