package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TEEXID_MAX_SCORE for --max-score.
const EnvPrefix = "TEEXID"

// RunFunc is what a command does once its configuration is valid.
type RunFunc func(ctx context.Context, cfg *Config) error

func newCommand(cfg *Config, use, short, version string, run RunFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate(use + " v{{.Version}}\n")

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log at debug level (env: TEEXID_VERBOSE)")
	fs.BoolVar(&cfg.LogJSON, "log-json", false, "log as JSON (env: TEEXID_LOG_JSON)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the action log; empty disables it (env: TEEXID_REDIS_ADDR)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database index (env: TEEXID_REDIS_DB)")
	fs.StringVar(&cfg.HistorianQueue, "historian-queue", "teexid_actions", "redis list carrying room actions (env: TEEXID_HISTORIAN_QUEUE)")
	return cmd
}

// bindEnv lets TEEXID_* variables fill any flag not set on the command line.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, envValue(f, v.Get(f.Name)))
		}
	})
}

// envValue renders a viper value for pflag. Slice flags take a comma separated list.
func envValue(f *pflag.Flag, val interface{}) string {
	if list, ok := val.([]string); ok && f.Value.Type() == "stringSlice" {
		return strings.Join(list, ",")
	}
	return fmt.Sprintf("%v", val)
}

// NewServerCommand builds the game server command.
func NewServerCommand(cfg *Config, version string, run RunFunc) *cobra.Command {
	cmd := newCommand(cfg, "teexid", "Multiplayer storytelling card game server.", version, run)
	fs := cmd.Flags()

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: TEEXID_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: TEEXID_PORT)")
	fs.StringSliceVar(&cfg.Origins, "allowed-origins", nil, "extra websocket origin patterns to accept (env: TEEXID_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "base URL used in room invite links (env: TEEXID_PUBLIC_URL)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to tls certificate (env: TEEXID_TLS_CERT)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to tls keyfile (env: TEEXID_TLS_KEY)")

	fs.IntVar(&cfg.DeckSize, "deck-size", 84, "number of distinct cards (env: TEEXID_DECK_SIZE)")
	fs.IntVar(&cfg.HandSize, "hand-size", 6, "cards per hand (env: TEEXID_HAND_SIZE)")
	fs.IntVar(&cfg.MinPlayers, "min-players", 2, "players needed to start (env: TEEXID_MIN_PLAYERS)")
	fs.IntVar(&cfg.MaxPlayers, "max-players", 12, "players allowed per room (env: TEEXID_MAX_PLAYERS)")
	fs.IntVar(&cfg.MaxScore, "max-score", 30, "score that ends the game, 0 for none (env: TEEXID_MAX_SCORE)")
	fs.IntVar(&cfg.MaxTurns, "max-turns", 0, "turns that end the game, 0 for none (env: TEEXID_MAX_TURNS)")
	fs.BoolVar(&cfg.AutoAdvance, "auto-advance", false, "start the next turn as soon as one is scored (env: TEEXID_AUTO_ADVANCE)")
	fs.BoolVar(&cfg.RequireReady, "require-ready", false, "only start once every player is ready (env: TEEXID_REQUIRE_READY)")
	fs.DurationVar(&cfg.RoomTimeout, "room-timeout", 30*time.Minute, "time before idle rooms are closed, 0 to keep them (env: TEEXID_ROOM_TIMEOUT)")

	fs.BoolVar(&cfg.RequireAuth, "require-auth", false, "require a session token on identify (env: TEEXID_REQUIRE_AUTH)")
	fs.StringVar(&cfg.TokenExpire, "token-expire", "72h", "session token lifetime, or never (env: TEEXID_TOKEN_EXPIRE)")
	fs.StringVar(&cfg.PrivateKeyFile, "private-key", "", "raw ed25519 private key file; generated when empty (env: TEEXID_PRIVATE_KEY)")
	fs.StringVar(&cfg.PublicKeyFile, "public-key", "", "raw ed25519 public key file (env: TEEXID_PUBLIC_KEY)")

	bindEnv(fs)
	return cmd
}

// NewHistorianCommand builds the command that moves queued room actions into Postgres.
func NewHistorianCommand(cfg *Config, version string, run RunFunc) *cobra.Command {
	cmd := newCommand(cfg, "teexid-historian", "Persists room action logs from Redis into Postgres.", version, run)
	fs := cmd.Flags()

	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string; built from PG_* variables when empty (env: TEEXID_DATABASE_URL)")
	fs.IntVar(&cfg.BatchSize, "batch-size", 20, "actions written per transaction (env: TEEXID_BATCH_SIZE)")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", 500*time.Millisecond, "longest an action waits before it is written (env: TEEXID_FLUSH_INTERVAL)")
	fs.DurationVar(&cfg.Inactivity, "inactivity", 10*time.Minute, "quiet time before a room is marked abandoned (env: TEEXID_INACTIVITY)")

	bindEnv(fs)
	return cmd
}
