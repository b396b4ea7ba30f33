package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/finwatch/go-orderbook-sync/domain"
	"github.com/finwatch/go-orderbook-sync/provider"
	"github.com/finwatch/go-orderbook-sync/provider/kucoin"
)

// Config is the runtime configuration of the demo binary. Everything is read
// once at startup and passed down explicitly; no package keeps global mutable
// settings.
type Config struct {
	Provider string
	Symbol   string
	Debug    bool

	PromListenAddr string

	Book      domain.Options
	Providers provider.Config
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Provider:       getString("OBS_PROVIDER", "binance"),
		Symbol:         getString("OBS_SYMBOL", "btc_usdt"),
		Debug:          getBool("OBS_DEBUG", false),
		PromListenAddr: getString("OBS_PROM_LISTEN_ADDR", ":8080"),

		Book: domain.Options{
			DepthLimit:           getInt("OBS_DEPTH_LIMIT", 0),
			BufferCapacity:       getInt("OBS_BUFFER_CAPACITY", 0),
			MaxSnapshotRetries:   getInt("OBS_MAX_SNAPSHOT_RETRIES", 0),
			SnapshotTimeout:      getDuration("OBS_SNAPSHOT_TIMEOUT", 0),
			ResyncAlertThreshold: getInt("OBS_RESYNC_ALERT_THRESHOLD", 0),
			ResyncAlertWindow:    getDuration("OBS_RESYNC_ALERT_WINDOW", 0),
		},

		Providers: provider.Config{
			BinanceRestEndpoint:   os.Getenv("BINANCE_REST_ENDPOINT"),
			BinanceStreamEndpoint: os.Getenv("BINANCE_WS_ENDPOINT"),
			Kucoin: kucoin.Credentials{
				BaseURL:    os.Getenv("KUCOIN_BASE_URL"),
				Key:        os.Getenv("KUCOIN_API_KEY"),
				Secret:     os.Getenv("KUCOIN_SECRET_KEY"),
				Passphrase: os.Getenv("KUCOIN_PASSPHRASE"),
			},
		},
	}

	if _, err := domain.NewMarketSymbolFromString(cfg.Symbol); err != nil {
		return nil, fmt.Errorf("OBS_SYMBOL: %w", err)
	}

	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
