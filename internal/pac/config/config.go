package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Listen is the host:port of the HTTP surface serving /proxy.pac.
	Listen string `koanf:"listen" validate:"required,host_port"`

	// Platform selects the installer strategy.
	Platform string `koanf:"platform" validate:"required,oneof=autoconfig inline"`

	// InlinePath is where the inline platform mirrors the installed script.
	InlinePath string `koanf:"inline_path"`

	// PrivateBrowsing reports whether the autoconfig platform may proxy private windows.
	PrivateBrowsing bool `koanf:"private_browsing"`

	StateBackend string `koanf:"state_backend" validate:"required,oneof=bolt redis memory"`
	StatePath    string `koanf:"state_path" validate:"required_if=StateBackend bolt"`
	RedisAddr    string `koanf:"redis_addr" validate:"required_if=StateBackend redis,omitempty,url"`

	// RegistryURL is the base of the registry API; empty disables remote sync.
	RegistryURL      string        `koanf:"registry_url" validate:"omitempty,url"`
	RegistryInterval time.Duration `koanf:"registry_interval" validate:"gte=0"`

	// IgnoreURL serves the remote ignore list; empty disables remote refresh.
	IgnoreURL           string        `koanf:"ignore_url" validate:"omitempty,url"`
	IgnoreFetchInterval time.Duration `koanf:"ignore_fetch_interval" validate:"gt=0"`
	IgnoreSaveInterval  time.Duration `koanf:"ignore_save_interval" validate:"gt=0"`
	IgnoreCacheSize     int           `koanf:"ignore_cache_size" validate:"gte=0"`

	// ProxyServer is the default proxy endpoint written into the PAC.
	ProxyServer string `koanf:"proxy_server" validate:"omitempty,host_port"`
	// ProxyPing is the default liveness ping target.
	ProxyPing string `koanf:"proxy_ping" validate:"omitempty,host_port"`

	HTTPTimeout time.Duration `koanf:"http_timeout" validate:"gt=0"`

	// SelfID identifies this agent to the extension manager.
	SelfID string `koanf:"self_id" validate:"required"`
}

// DEFAULT_APP_CONFIG defines the default application configuration settings.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                 "prod",
	LogLevel:            "info",
	Listen:              "127.0.0.1:8080",
	Platform:            "autoconfig",
	InlinePath:          "",
	PrivateBrowsing:     false,
	StateBackend:        "bolt",
	StatePath:           "/var/lib/rr-pac/state.db",
	RedisAddr:           "",
	RegistryURL:         "",
	RegistryInterval:    time.Hour,
	IgnoreURL:           "",
	IgnoreFetchInterval: 15 * time.Minute,
	IgnoreSaveInterval:  30 * time.Minute,
	IgnoreCacheSize:     4096,
	ProxyServer:         "",
	ProxyPing:           "",
	HTTPTimeout:         30 * time.Second,
	SelfID:              "rr-pac",
}

// validHostPort validates "host:port" where host is a hostname or IP and the
// port is between 1 and 65535.
func validHostPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || host == "" || port == "" {
		return false
	}
	if strings.ContainsAny(host, " /'\";") {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// dotenvLoader loads a .env file into the process environment. A missing
// file is not an error. Can be replaced in tests.
var dotenvLoader = func(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// envLoader loads environment variables with the prefix "PAC_", lowercasing
// keys and stripping the prefix. Can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "PAC_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "PAC_"))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "host_port" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("host_port", validHostPort)
}

// Load reads defaults, an optional .env file and PAC_* environment variables
// and returns a validated AppConfig.
func Load() (*AppConfig, error) {
	if err := dotenvLoader(".env"); err != nil {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
