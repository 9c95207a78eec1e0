package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/glinharesb/platform-go/internal/signing"
)

type Config struct {
	// Backend selects the platform backend: "software" or "remote".
	Backend      string
	GRPCAddr     string
	RemoteAddr   string
	TLSCert      string
	TLSKey       string
	RemoteCA     string
	AuthToken    string
	AuditBuffer  int
	RateLimitRPS int
	// DataDir holds the key index and blobs. Empty keeps everything in memory.
	DataDir        string
	KeyringService string
	// FixedLocation, when set, maps every storage name onto one blob.
	FixedLocation string
	// SealKey is the hex-encoded root secret for sealing blobs. Empty means
	// an ephemeral key.
	SealKey          string
	CallTimeout      time.Duration
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	IOTimeout        time.Duration
	SignFormats      string
}

func Load() Config {
	return Config{
		Backend:          envOr("PLATFORM_BACKEND", "software"),
		GRPCAddr:         envOr("PLATFORM_GRPC_ADDR", ":50051"),
		RemoteAddr:       envOr("PLATFORM_REMOTE_ADDR", "localhost:50051"),
		TLSCert:          os.Getenv("PLATFORM_TLS_CERT"),
		TLSKey:           os.Getenv("PLATFORM_TLS_KEY"),
		RemoteCA:         os.Getenv("PLATFORM_REMOTE_CA"),
		AuthToken:        envOr("PLATFORM_AUTH_TOKEN", "dev-token"),
		AuditBuffer:      envInt("PLATFORM_AUDIT_BUFFER", 1024),
		RateLimitRPS:     envInt("PLATFORM_RATE_LIMIT_RPS", 100),
		DataDir:          envOr("PLATFORM_DATA_DIR", ""),
		KeyringService:   os.Getenv("PLATFORM_KEYRING_SERVICE"),
		FixedLocation:    os.Getenv("PLATFORM_STORAGE_FIXED"),
		SealKey:          os.Getenv("PLATFORM_SEAL_KEY"),
		CallTimeout:      envDuration("PLATFORM_CALL_TIMEOUT", 5*time.Second),
		DialTimeout:      envDuration("PLATFORM_DIAL_TIMEOUT", 10*time.Second),
		HandshakeTimeout: envDuration("PLATFORM_HANDSHAKE_TIMEOUT", 10*time.Second),
		IOTimeout:        envDuration("PLATFORM_IO_TIMEOUT", 30*time.Second),
		SignFormats:      envOr("PLATFORM_SIGN_FORMATS", "all"),
	}
}

// SealRoot decodes SealKey. It returns nil when no key is configured.
func (c Config) SealRoot() ([]byte, error) {
	if c.SealKey == "" {
		return nil, nil
	}
	root, err := hex.DecodeString(c.SealKey)
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_SEAL_KEY: %w", err)
	}
	if len(root) < 32 {
		return nil, fmt.Errorf("PLATFORM_SEAL_KEY: need at least 32 bytes, got %d", len(root))
	}
	return root, nil
}

// Formats parses SignFormats: "all", "native", "pkcs" or "native,pkcs".
func (c Config) Formats() (signing.Format, error) {
	return signing.ParseFormats(c.SignFormats)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
