package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	Addr string
	// AllowedOrigins for CORS; frontend dev servers by default.
	AllowedOrigins []string
}

type Node struct {
	DBPath  string
	LogFile string
	// Instances is how many escrow contract instances to deploy at startup.
	// Two instances make the cross-instance settlement path reachable out of
	// the box on a devnet.
	Instances int
	// Deployer is the address contract addresses are derived from. Fixed per
	// network so instance addresses stay stable across restarts.
	Deployer string
	// GenesisAccounts are funded with GenesisNative units of the native
	// currency on a fresh database. Devnet bootstrap only.
	GenesisAccounts []string
	GenesisNative   string
}

type Config struct {
	API  API
	Node Node
}

func Default() Config {
	return Config{
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Node: Node{
			DBPath:        "data/chain.db",
			LogFile:       "data/node.log",
			Instances:     2,
			Deployer:      "0x00000000000000000000000000000000004C4F43",
			GenesisNative: "1000000",
		},
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

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Node.Instances = n
		}
	}
	if v := os.Getenv("DEPLOYER"); v != "" {
		cfg.Node.Deployer = v
	}
	if v := os.Getenv("GENESIS_ACCOUNTS"); v != "" {
		cfg.Node.GenesisAccounts = strings.Split(v, ",")
	}
	if v := os.Getenv("GENESIS_NATIVE"); v != "" {
		cfg.Node.GenesisNative = v
	}

	return cfg
}
