package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/boredparty/internal/gameclient"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"
)

type Config struct {
	Server       string        `envconfig:"BORED_SERVER" default:"127.0.0.1:53000"`
	TickInterval time.Duration `envconfig:"BORED_TICK_INTERVAL" default:"16ms"`
	// Wander is how far the bot walks per tick. 0 keeps it in place.
	Wander   float32       `envconfig:"BORED_WANDER" default:"2"`
	Duration time.Duration `envconfig:"BORED_DURATION"`
	Verbose  bool          `envconfig:"BORED_VERBOSE"`
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

// play connects to the server and walks around randomly until interrupted,
// the server goes away, or config.Duration elapses.
func play(config *Config) error {
	logger := configureLogger(config.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Duration)
		defer cancel()
	}

	session, err := gameclient.Dial(ctx, config.Server, gameclient.Options{
		Logger:       logger,
		TickInterval: config.TickInterval,
	})
	if err != nil {
		return fmt.Errorf("could not join %s: %w", config.Server, err)
	}

	world := gameclient.NewWorld(logger)
	world.OnChangeMap = func(seed uint64) {
		logger.Info().Uint64("seed", seed).Msg("map changed")
	}

	rnd := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	heading := rnd.Float32() * 2 * math32.Pi

	ticker := time.NewTicker(config.TickInterval)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("leaving")
			return session.Close()
		case <-session.Done():
			session.Close()
			return fmt.Errorf("session ended: %w", session.Err())
		case <-report.C:
			logger.Info().
				Uint64("seed", world.Seed).
				Int("others", len(world.Others)).
				Msgf("standing at %v", world.Player)
		case <-ticker.C:
			if config.Wander > 0 {
				// drift the heading a little so the walk looks aimless
				heading += (rnd.Float32() - 0.5) * math32.Pi / 4
				world.Move(mgl32.Vec2{
					math32.Cos(heading) * config.Wander,
					math32.Sin(heading) * config.Wander,
				})
			}
			world.Sync(session)
		}
	}
}

func rootCmd() (*cobra.Command, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("could not process config: %w", err)
	}

	cmd := &cobra.Command{
		Use:   "boredclient",
		Short: "Join a boredparty game server with a wandering bot",
		Long: `Join a boredparty game server with a headless bot that wanders around.

Defaults come from BORED_* environment variables, flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(config)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&config.Server, "server", config.Server, "server address (host:port)")
	flags.DurationVar(&config.TickInterval, "tick", config.TickInterval, "pause between game loop iterations")
	flags.Float32Var(&config.Wander, "wander", config.Wander, "distance walked per tick")
	flags.DurationVar(&config.Duration, "duration", config.Duration, "leave after this long (0 stays until interrupted)")
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
