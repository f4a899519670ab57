package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Env holds the values loaded from the .env file. OS environment
// variables always win so containerized deployments can override.
var Env map[string]string

// Load reads the .env file if one exists. Missing files are not an
// error; everything has a default suitable for Celo mainnet.
func Load() {
	for _, f := range []string{".env", "../.env"} {
		if m, err := godotenv.Read(f); err == nil {
			Env = m
			return
		}
	}
}

func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v, ok := Env[key]; ok && v != "" {
		return v
	}
	return def
}

func GetInt(key string, def int) int {
	if v, err := strconv.Atoi(Get(key, "")); err == nil {
		return v
	}
	return def
}

func GetInt64(key string, def int64) int64 {
	if v, err := strconv.ParseInt(Get(key, ""), 10, 64); err == nil {
		return v
	}
	return def
}

func GetFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(Get(key, ""), 64); err == nil {
		return v
	}
	return def
}

// Chain returns the network parameters for the single EVM chain the
// platform targets.
func Chain() ChainConfig {
	return ChainConfig{
		RPCURL:           Get("CELO_RPC_URL", "https://forno.celo.org"),
		ChainID:          GetInt64("CHAIN_ID", 42220),
		TokenContract:    Get("GOODDOLLAR_CONTRACT", "0x62B8B11039FcfE5aB0C56E502b1C372A3d2a9c7A"),
		UBIProxy:         Get("UBI_PROXY_CONTRACT", "0x43d72Ff17701B2DA814620735C39C620Ce0ea4A1"),
		BlocksPerHour:    uint64(GetInt("BLOCKS_PER_HOUR", 720)),
		ExplorerTxBase:   Get("EXPLORER_TX_BASE", "https://celoscan.io/tx/"),
		RewardContract:   Get("LEARN_EARN_CONTRACT_ADDRESS", ""),
		MinGasCelo:       GetFloat("MIN_GAS_CELO", 0.01),
		TransferGasCap:   uint64(GetInt("TRANSFER_GAS_LIMIT", 250000)),
		ContractGasCap:   uint64(GetInt("CONTRACT_GAS_LIMIT", 300000)),
		ReceiptTimeout:   GetInt("RECEIPT_TIMEOUT_SECONDS", 180),
		PayoutWorkers:    GetInt("PAYOUT_WORKERS", 4),
		PlatformMnemonic: Get("PLATFORM_MNEMONIC", ""),
	}
}

type ChainConfig struct {
	RPCURL           string
	ChainID          int64
	TokenContract    string
	UBIProxy         string
	BlocksPerHour    uint64
	ExplorerTxBase   string
	RewardContract   string
	MinGasCelo       float64
	TransferGasCap   uint64
	ContractGasCap   uint64
	ReceiptTimeout   int
	PayoutWorkers    int
	PlatformMnemonic string
}

// DSN builds the postgres connection string for the claim ledger.
func DSN() string {
	if dsn := Get("DATABASE_DSN", ""); dsn != "" {
		return dsn
	}
	return "host=" + Get("DB_HOST", "localhost") +
		" user=" + Get("DB_USER", "postgres") +
		" password=" + Get("DB_PASSWORD", "postgres") +
		" dbname=" + Get("DB_NAME", "rewards") +
		" port=" + Get("DB_PORT", "5432") +
		" sslmode=" + Get("DB_SSLMODE", "disable")
}
