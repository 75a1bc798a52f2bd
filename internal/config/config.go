package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrNoModels = errors.New(
		"error getting CS_MODELS: variable not specified or contains an empty string")
	ErrInvalidModel = errors.New("invalid vehicle model, expected format \"make:model\"")
)

// VehicleModel identifies one make/model pair to track.
type VehicleModel struct {
	Make  string
	Model string
}

type Config struct {
	Env         string // Env is the current environment: local, dev, prod.
	StoragePath string // StoragePath is the path to the SQLite database file.
	DataDir     string // DataDir is the directory for CSV exports.
	Models      []VehicleModel
	Scraper     Scraper
	Tg          Telegram
	API         API
}

type Scraper struct {
	MaxPages      int           // MaxPages limits pagination; 0 means auto-detect.
	Delay         time.Duration // Delay is the base pause between page requests.
	AdaptiveDelay bool          // AdaptiveDelay scales the pause with server response time.
	KeepOnEmpty   bool          // KeepOnEmpty skips deactivation on empty, suspect batches.
	UserAgent     string
}

type Telegram struct {
	Token   string        // Token is an unique telegram bot token; empty disables the bot.
	ChatID  int64         // ChatID is the chat that receives run summaries.
	Timeout time.Duration // Timeout is a poller timeout duration.
}

type API struct {
	Port string
}

// MustLoad loads the scraper configuration from environment variables.
// CS_MODELS is required; the tracker has nothing to do without it.
func MustLoad() *Config {
	cfg := MustLoadDashboard()

	models, err := ParseModels(viper.GetString("MODELS"))
	if err != nil {
		panic(err)
	}
	cfg.Models = models

	return cfg
}

// MustLoadDashboard loads the configuration without requiring CS_MODELS.
// The dashboard serves whatever make/model pairs are already in storage.
func MustLoadDashboard() *Config {
	// Automatically binds environment variables to config keys
	viper.SetEnvPrefix("CS")
	viper.AutomaticEnv()

	// optional args
	viper.SetDefault("ENV", "production")
	viper.SetDefault("STORAGE_PATH", "data/carscout.db")
	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("MAX_PAGES", 0)
	viper.SetDefault("DELAY", "2s")
	viper.SetDefault("ADAPTIVE_DELAY", true)
	viper.SetDefault("KEEP_ON_EMPTY", false)
	viper.SetDefault("USER_AGENT", "Mozilla/5.0 (compatible; CarscoutBot/2.0)")
	viper.SetDefault("TELEGRAM_TIMEOUT", "15s")
	viper.SetDefault("API_PORT", "8080")

	return &Config{
		Env:         viper.GetString("ENV"),
		StoragePath: viper.GetString("STORAGE_PATH"),
		DataDir:     viper.GetString("DATA_DIR"),
		Scraper: Scraper{
			MaxPages:      viper.GetInt("MAX_PAGES"),
			Delay:         viper.GetDuration("DELAY"),
			AdaptiveDelay: viper.GetBool("ADAPTIVE_DELAY"),
			KeepOnEmpty:   viper.GetBool("KEEP_ON_EMPTY"),
			UserAgent:     viper.GetString("USER_AGENT"),
		},
		Tg: Telegram{
			Token:   viper.GetString("TELEGRAM_TOKEN"),
			ChatID:  viper.GetInt64("TELEGRAM_CHAT_ID"),
			Timeout: viper.GetDuration("TELEGRAM_TIMEOUT"),
		},
		API: API{
			Port: viper.GetString("API_PORT"),
		},
	}
}

// ParseModels parses a comma-separated list of "make:model" pairs,
// e.g. "bmw:serie-3,audi:a4".
func ParseModels(raw string) ([]VehicleModel, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoModels
	}

	var models []VehicleModel
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		mk, md, found := strings.Cut(pair, ":")
		mk, md = strings.TrimSpace(mk), strings.TrimSpace(md)
		if !found || mk == "" || md == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidModel, pair)
		}
		models = append(models, VehicleModel{Make: mk, Model: md})
	}

	if len(models) == 0 {
		return nil, ErrNoModels
	}

	return models, nil
}
