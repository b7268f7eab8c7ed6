package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend selects the codec implementation.
type Backend string

const (
	BackendNative Backend = "native"
	BackendVips   Backend = "vips"
)

const prodEnv = "prod"

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Storage layout.
	RootDir   string      // upload root, set once
	URLPrefix string      // public prefix, e.g. "uploads" -> /uploads/<sub>/<file>
	DirPerm   os.FileMode // default 0755
	FilePerm  os.FileMode // default 0644

	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()
	QueueSize   int // max queued jobs before callers block; default: 256
	JobTimeout  time.Duration

	// Codec.
	Backend        Backend
	DefaultQuality int   // applied when a request carries no quality; default 100
	MaxImageBytes  int64 // 0 = no limit on decoded payload size

	// Temporary share links.
	TempURLTTL      time.Duration
	TempURLCapacity int

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"

	// HTTP surface (cmd/imagestore only).
	HTTP HTTPConfig
}

// HTTPConfig configures the HTTP glue around the service.
type HTTPConfig struct {
	Addr         string
	IsProduction bool
	AllowOrigins []string
	MaxBodyBytes int64

	// Parameters used by the legacy /api/saveImage endpoint.
	UploadWidth   int
	UploadQuality int
	UploadFormat  string
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		RootDir:         "uploads",
		URLPrefix:       "uploads",
		DirPerm:         0o755,
		FilePerm:        0o644,
		WorkerCount:     0, // resolved at runtime to NumCPU
		QueueSize:       256,
		JobTimeout:      30 * time.Second,
		Backend:         BackendVips,
		DefaultQuality:  100,
		TempURLTTL:      15 * time.Minute,
		TempURLCapacity: 1024,
		LogLevel:        "info",
		HTTP: HTTPConfig{
			Addr:          ":3001",
			AllowOrigins:  []string{"http://localhost:3000", "http://localhost:3001"},
			MaxBodyBytes:  50 << 20,
			UploadWidth:   1200,
			UploadQuality: 80,
			UploadFormat:  "webp",
		},
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if strings.TrimSpace(c.RootDir) == "" {
		return errors.New("config: RootDir is required")
	}
	if c.DefaultQuality < 0 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 0 and 100")
	}
	if c.DirPerm&0o700 != 0o700 {
		return errors.New("config: DirPerm must grant the owner rwx")
	}
	if c.FilePerm&0o600 != 0o600 {
		return errors.New("config: FilePerm must grant the owner rw")
	}
	if c.QueueSize < 0 {
		return errors.New("config: QueueSize must not be negative")
	}
	switch c.Backend {
	case BackendNative, BackendVips:
	default:
		return fmt.Errorf("config: unknown Backend %q", c.Backend)
	}
	if c.TempURLTTL <= 0 {
		return errors.New("config: TempURLTTL must be positive")
	}
	return nil
}

// Load reads .env (optional) and the process environment on top of Default().
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	var err error

	cfg.RootDir = getEnv("UPLOAD_DIR", cfg.RootDir)
	cfg.URLPrefix = strings.Trim(getEnv("URL_PREFIX", cfg.URLPrefix), "/")
	cfg.Backend = Backend(strings.ToLower(getEnv("BACKEND", string(cfg.Backend))))
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))

	if cfg.DirPerm, err = getEnvAsMode("DIR_PERM", cfg.DirPerm); err != nil {
		return Config{}, err
	}
	if cfg.FilePerm, err = getEnvAsMode("FILE_PERM", cfg.FilePerm); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = getEnvAsInt("WORKER_COUNT", cfg.WorkerCount); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = getEnvAsInt("QUEUE_SIZE", cfg.QueueSize); err != nil {
		return Config{}, err
	}
	if cfg.DefaultQuality, err = getEnvAsInt("DEFAULT_QUALITY", cfg.DefaultQuality); err != nil {
		return Config{}, err
	}
	if cfg.TempURLCapacity, err = getEnvAsInt("TEMP_URL_CAPACITY", cfg.TempURLCapacity); err != nil {
		return Config{}, err
	}
	if cfg.JobTimeout, err = getEnvAsDuration("JOB_TIMEOUT", cfg.JobTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TempURLTTL, err = getEnvAsDuration("TEMP_URL_TTL", cfg.TempURLTTL); err != nil {
		return Config{}, err
	}
	maxBytes, err := getEnvAsInt("MAX_IMAGE_BYTES", int(cfg.MaxImageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxImageBytes = int64(maxBytes)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.IsProduction = getEnv("APP_ENV", "dev") == prodEnv
	if origins := getEnv("ALLOW_ORIGINS", ""); origins != "" {
		cfg.HTTP.AllowOrigins = splitList(origins)
	}
	if cfg.HTTP.UploadWidth, err = getEnvAsInt("UPLOAD_WIDTH", cfg.HTTP.UploadWidth); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.UploadQuality, err = getEnvAsInt("UPLOAD_QUALITY", cfg.HTTP.UploadQuality); err != nil {
		return Config{}, err
	}
	cfg.HTTP.UploadFormat = getEnv("UPLOAD_FORMAT", cfg.HTTP.UploadFormat)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// getEnv returns the value of the environment variable if set,
// otherwise returns the provided default value.
func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("env %s value %q is not a valid integer: %w", key, valStr, err)
	}
	return val, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("env %s value %q is not a valid duration: %w", key, valStr, err)
	}
	return d, nil
}

// getEnvAsMode parses an octal permission string such as "0775".
func getEnvAsMode(key string, defaultValue os.FileMode) (os.FileMode, error) {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseUint(valStr, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("env %s value %q is not an octal mode: %w", key, valStr, err)
	}
	return os.FileMode(v) & os.ModePerm, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
