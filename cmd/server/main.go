package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/boredparty/internal/gameserver"
	"github.com/blukai/boredparty/internal/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type Config struct {
	Addr            string        `envconfig:"BORED_ADDR" default:"0.0.0.0:53000"`
	AdminAddr       string        `envconfig:"BORED_ADMIN_ADDR"`
	Seed            string        `envconfig:"BORED_SEED"`
	Monsters        int           `envconfig:"BORED_MONSTERS" default:"0"`
	MonsterInterval time.Duration `envconfig:"BORED_MONSTER_INTERVAL" default:"500ms"`
	TickInterval    time.Duration `envconfig:"BORED_TICK_INTERVAL" default:"1ms"`
	Verbose         bool          `envconfig:"BORED_VERBOSE"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("", config); err != nil {
		return nil, err
	}
	return config, nil
}

func configureLogger(verbose bool) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	logger.Level = log.InfoLevel
	if verbose {
		logger.Level = log.DebugLevel
	}

	return &logger
}

// serveAdmin serves handler on ln in the background. the returned channel
// yields the error if serving stops for any reason other than Shutdown/Close.
func serveAdmin(wg *sync.WaitGroup, ln net.Listener, handler http.Handler) (*http.Server, <-chan error) {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errChan := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	return srv, errChan
}

func serve(config *Config) error {
	logger := configureLogger(config.Verbose)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gameServer, err := gameserver.NewGameServer("tcp", config.Addr, gameserver.Options{
		Logger:          logger,
		Metrics:         metrics.New(reg),
		SeedPhrase:      config.Seed,
		TickInterval:    config.TickInterval,
		Monsters:        config.Monsters,
		MonsterInterval: config.MonsterInterval,
	})
	if err != nil {
		return fmt.Errorf("could not construct game server: %w", err)
	}
	logger.Info().
		Uint64("seed", gameServer.MapSeed()).
		Msgf("started game server on %s", gameServer.Addr())

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	var gameServerRunErr error
	go func() {
		defer wg.Done()
		gameServerRunErr = gameServer.Run(ctx)
	}()

	var adminServer *http.Server
	var adminErrChan <-chan error
	if config.AdminAddr != "" {
		// bind right away so that a taken address fails startup rather than
		// going unnoticed
		adminListener, err := net.Listen("tcp", config.AdminAddr)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("could not listen on admin addr: %w", err)
		}

		adminServer, adminErrChan = serveAdmin(wg, adminListener, gameServer.AdminHandler(reg))
		logger.Info().Msgf("started admin server on %s", adminListener.Addr())
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	var errs error
	select {
	case sig := <-signalChan:
		logger.Info().Msgf("received %+v signal", sig)
	case err := <-adminErrChan:
		logger.Error().Err(err).Msg("admin server failed")
		errs = multierror.Append(errs, fmt.Errorf("admin server failed: %w", err))
	}

	cancel()

	if adminServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("could not shut down admin server: %w", err))
		}
	}

	wg.Wait()
	if gameServerRunErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("game server run failed: %w", gameServerRunErr))
	}

	return errs
}

func rootCmd() (*cobra.Command, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("could not process config: %w", err)
	}

	cmd := &cobra.Command{
		Use:   "boredserver",
		Short: "Run a boredparty game server",
		Long: `Run a boredparty game server.

Defaults come from BORED_* environment variables, flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&config.Addr, "addr", config.Addr, "address to accept players on")
	flags.StringVar(&config.AdminAddr, "admin-addr", config.AdminAddr, "address for the admin and metrics endpoints (disabled when empty)")
	flags.StringVar(&config.Seed, "seed", config.Seed, "phrase to derive the map seed from (random when empty)")
	flags.IntVar(&config.Monsters, "monsters", config.Monsters, "number of wandering monsters")
	flags.DurationVar(&config.MonsterInterval, "monster-interval", config.MonsterInterval, "pause between monster moves")
	flags.DurationVar(&config.TickInterval, "tick", config.TickInterval, "pause between client worker iterations")
	flags.BoolVarP(&config.Verbose, "verbose", "v", config.Verbose, "log every frame")

	return cmd, nil
}

func erringMain() error {
	cmd, err := rootCmd()
	if err != nil {
		return err
	}
	return cmd.Execute()
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
