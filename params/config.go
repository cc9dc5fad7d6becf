package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/transledger/ibex/pkg/asset"
)

// Exchange holds the per-deployment parameters of the settlement core.
type Exchange struct {
	// SelfAddress is the exchange's ledger identity: the spender that order
	// owners approve allowances for.
	SelfAddress string

	// FeeSymbol is the designated fee currency, "precision,CODE" form in the
	// environment. Fees on every order must be denominated in it.
	FeeSymbol asset.Symbol

	// DataDir holds the pebble order database.
	DataDir string
}

type API struct {
	ListenAddr     string
	AllowedOrigins []string
}

type Config struct {
	Exchange Exchange
	API      API
	LogFile  string
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			SelfAddress: "0xE8c0000000000000000000000000000000000000",
			FeeSymbol:   asset.NewSymbol("TTLD", 4),
			DataDir:     "data/orders",
		},
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		LogFile: "data/ibexd.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("EXCHANGE_ADDRESS"); v != "" {
		cfg.Exchange.SelfAddress = v
	}
	if v := os.Getenv("FEE_SYMBOL"); v != "" {
		if sym, err := asset.ParseSymbol(v); err == nil {
			cfg.Exchange.FeeSymbol = sym
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Exchange.DataDir = v
	}
	if v := os.Getenv("API_LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg
}
