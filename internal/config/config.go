// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/macqm/teexid/internal/auth"
	"github.com/macqm/teexid/internal/cache"
	"github.com/macqm/teexid/internal/game"
	"github.com/macqm/teexid/internal/historian"
	"github.com/sirupsen/logrus"
)

// Config holds every setting of both binaries. Each command registers only the flags it uses.
type Config struct {
	Bind      string
	Port      int
	Origins   []string
	PublicURL string
	TLSCert   string
	TLSKey    string

	DeckSize     int
	HandSize     int
	MinPlayers   int
	MaxPlayers   int
	MaxScore     int
	MaxTurns     int
	AutoAdvance  bool
	RequireReady bool
	RoomTimeout  time.Duration

	RequireAuth    bool
	TokenExpire    string
	PrivateKeyFile string
	PublicKeyFile  string

	RedisAddr      string
	RedisDB        int
	HistorianQueue string

	DatabaseURL   string
	BatchSize     int
	FlushInterval time.Duration
	Inactivity    time.Duration

	Verbose bool
	LogJSON bool
}

// Validate checks the settings shared by both binaries plus the game options.
func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if (c.PrivateKeyFile == "") != (c.PublicKeyFile == "") {
		return errors.New("both --private-key and --public-key must be provided together")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 0-65535 inclusive): %d", c.Port)
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("invalid redis db: %d", c.RedisDB)
	}
	if _, err := auth.ParseTTL(c.TokenExpire); err != nil {
		return err
	}
	if c.RoomTimeout < 0 {
		return fmt.Errorf("room timeout must not be negative: %s", c.RoomTimeout)
	}
	if c.DeckSize > 0 {
		if err := c.GameOptions().Validate(); err != nil {
			return fmt.Errorf("game options: %w", err)
		}
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

func (c *Config) Scheme() string {
	if c.TLSCert != "" && c.TLSKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) GameOptions() game.Options {
	opts := game.DefaultOptions()
	opts.DeckSize = c.DeckSize
	opts.HandSize = c.HandSize
	opts.MinPlayers = c.MinPlayers
	opts.MaxPlayers = c.MaxPlayers
	opts.MaxScore = c.MaxScore
	opts.MaxTurns = c.MaxTurns
	opts.AutoAdvance = c.AutoAdvance
	opts.RequireReady = c.RequireReady
	opts.RoomTimeout = c.RoomTimeout
	return opts
}

func (c *Config) HistorianOptions() historian.Options {
	opts := historian.DefaultOptions()
	opts.BatchSize = c.BatchSize
	opts.FlushInterval = c.FlushInterval
	opts.Inactivity = c.Inactivity
	return opts
}

// Queue is the Redis list shared by the server and the historian.
func (c *Config) Queue() string {
	if q := strings.TrimSpace(c.HistorianQueue); q != "" {
		return q
	}
	return cache.DefaultQueueName
}

// Keys loads the token key pair from disk, or generates one for this process.
func (c *Config) Keys() (*auth.Keys, error) {
	ttl, err := auth.ParseTTL(c.TokenExpire)
	if err != nil {
		return nil, err
	}
	if c.PrivateKeyFile != "" {
		return auth.NewFromFiles(c.PrivateKeyFile, c.PublicKeyFile, ttl)
	}
	return auth.New(ttl)
}

// NewLogger builds the process logger: Debug with --verbose, Info otherwise.
func NewLogger(c *Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if c.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if c.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
