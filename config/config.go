package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"board-sync/loader"
	"board-sync/subscription"
)

type Config struct {
	Debug bool

	BoardURL   string
	BoardToken string
	// BoardKey names the board in the snapshot cache.
	BoardKey string

	ListenAddr       string
	Device           loader.Device
	LoadConcurrency  int
	InitialStateFile string

	RedisConnection string
	SnapshotTTL     time.Duration
	DeduperTTL      time.Duration

	Stream subscription.Config
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then the
// process environment.
func Load() (Config, error) {
	file := os.Getenv("ENV_FILE")
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", file, err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Invalid values are errors; unset values
// take defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		BoardURL:         strings.TrimSpace(getenv("BOARD_URL")),
		BoardToken:       getenv("BOARD_TOKEN"),
		BoardKey:         getenv("BOARD_KEY"),
		ListenAddr:       ":8090",
		LoadConcurrency:  4,
		InitialStateFile: getenv("INITIAL_STATE_FILE"),
		RedisConnection:  getenv("REDIS_CONNECTION_STRING"),
		SnapshotTTL:      24 * time.Hour,
		DeduperTTL:       24 * time.Hour,
		Stream:           subscription.DefaultConfig(),
	}
	if dbg, err := strconv.ParseBool(getenv("DEBUG")); err == nil && dbg {
		cfg.Debug = true
	}
	if cfg.BoardURL == "" {
		return Config{}, errors.New("missing BOARD_URL")
	}
	u, err := url.Parse(cfg.BoardURL)
	if err != nil || u.Host == "" {
		return Config{}, fmt.Errorf("invalid BOARD_URL %q", cfg.BoardURL)
	}
	if cfg.BoardKey == "" {
		cfg.BoardKey = u.Host
	}
	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if cfg.Device, err = loader.ParseDevice(getenv("DEVICE")); err != nil {
		return Config{}, fmt.Errorf("invalid DEVICE: %w", err)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"LOAD_CONCURRENCY", &cfg.LoadConcurrency},
		{"RECONNECT_MAX_ATTEMPTS", &cfg.Stream.MaxAttempts},
	}
	for _, it := range ints {
		v := getenv(it.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", it.name, err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be greater than zero", it.name)
		}
		*it.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"SNAPSHOT_TTL", &cfg.SnapshotTTL},
		{"DEDUPER_TTL", &cfg.DeduperTTL},
		{"HEARTBEAT_TIMEOUT", &cfg.Stream.HeartbeatTimeout},
		{"HEARTBEAT_CHECK_INTERVAL", &cfg.Stream.CheckInterval},
		{"RECONNECT_BASE_DELAY", &cfg.Stream.BackoffBase},
		{"RECONNECT_MAX_DELAY", &cfg.Stream.BackoffMax},
	}
	for _, it := range durations {
		v := getenv(it.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", it.name, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be greater than zero", it.name)
		}
		*it.dst = d
	}
	if cfg.Stream.BackoffMax < cfg.Stream.BackoffBase {
		return Config{}, errors.New("invalid RECONNECT_MAX_DELAY: below RECONNECT_BASE_DELAY")
	}
	return cfg, nil
}
