package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig holds environment driven configuration values.
// Secrets have no defaults inside code and must be provided via config.json or the environment.
type AppConfig struct {
	AppPort    string
	AppBaseURL string
	// JWTSecret signs short-lived download tokens for password protected file tunnels.
	JWTSecret string
	// CronSecret guards the cleanup endpoint when non-empty.
	CronSecret         string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis is optional; an empty host disables the sweep lock and geo cache.
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Object storage
	StorageDriver    string
	S3Region         string
	S3Bucket         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3PublicBaseURL  string
	S3PathStyle      bool
	LocalStorageDir  string
	LocalStorageURL  string
	StorageKeyPrefix string
	// Limits
	MaxFileSizeMB      int
	MaxEntryChars      int
	MaxTunnelChars     int
	DefaultExpiryHours int
	// Cleanup
	CleanupSchedule string
	// Click analytics
	ClickGeoLookup bool
	GeoIPEndpoint  string
	MetricsEnabled bool
	// Gin framework configuration
	GinMode string
	GinPath string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Fatalf("invalid config/config.json: %v", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		// Tokens only need to survive the process; a random key is enough for single-instance setups.
		log.Println("JWT_SECRET not set; download tokens use a per-process random key")
		cfg.JWTSecret = randomSecret()
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads grouped sections from a JSON file into out.
// A missing file is not an error; invalid JSON is.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	if app, ok := raw["app"].(map[string]any); ok {
		setString(app, "AppPort", &out.AppPort)
		setString(app, "AppBaseURL", &out.AppBaseURL)
		setString(app, "JWTSecret", &out.JWTSecret)
		setString(app, "CronSecret", &out.CronSecret)
		setInt(app, "RateLimitPerMinute", &out.RateLimitPerMinute)
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		setBool(app, "MetricsEnabled", &out.MetricsEnabled)
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		setString(dbs, "Driver", &out.DBDriver)
		setString(dbs, "DatabaseURI", &out.DatabaseURI)
		setString(dbs, "DBHost", &out.DBHost)
		setString(dbs, "DBPort", &out.DBPort)
		setString(dbs, "DBUser", &out.DBUser)
		setString(dbs, "DBPassword", &out.DBPassword)
		setString(dbs, "DBName", &out.DBName)
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		setString(rds, "RedisHost", &out.RedisHost)
		setInt(rds, "RedisPort", &out.RedisPort)
		setInt(rds, "RedisDB", &out.RedisDB)
		setString(rds, "RedisPassword", &out.RedisPassword)
	}

	if st, ok := raw["storage"].(map[string]any); ok {
		setString(st, "Driver", &out.StorageDriver)
		setString(st, "S3Region", &out.S3Region)
		setString(st, "S3Bucket", &out.S3Bucket)
		setString(st, "S3Endpoint", &out.S3Endpoint)
		setString(st, "S3AccessKey", &out.S3AccessKey)
		setString(st, "S3SecretKey", &out.S3SecretKey)
		setString(st, "S3PublicBaseURL", &out.S3PublicBaseURL)
		setBool(st, "S3PathStyle", &out.S3PathStyle)
		setString(st, "LocalDir", &out.LocalStorageDir)
		setString(st, "LocalURL", &out.LocalStorageURL)
		setString(st, "KeyPrefix", &out.StorageKeyPrefix)
	}

	if lm, ok := raw["limits"].(map[string]any); ok {
		setInt(lm, "MaxFileSizeMB", &out.MaxFileSizeMB)
		setInt(lm, "MaxEntryChars", &out.MaxEntryChars)
		setInt(lm, "MaxTunnelChars", &out.MaxTunnelChars)
		setInt(lm, "DefaultExpiryHours", &out.DefaultExpiryHours)
	}

	if cl, ok := raw["cleanup"].(map[string]any); ok {
		setString(cl, "Schedule", &out.CleanupSchedule)
		setBool(cl, "ClickGeoLookup", &out.ClickGeoLookup)
		setString(cl, "GeoIPEndpoint", &out.GeoIPEndpoint)
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		setString(g, "Mode", &out.GinMode)
		setString(g, "LogPath", &out.GinPath)
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		setString(lg, "Level", &out.LogLevel)
		setString(lg, "Path", &out.LogPath)
		setInt(lg, "MaxSizeMB", &out.LogMaxSizeMB)
		setInt(lg, "MaxBackups", &out.LogMaxBackups)
		setInt(lg, "MaxAgeDays", &out.LogMaxAgeDays)
		setBool(lg, "Compress", &out.LogCompress)
	}

	return nil
}

func setString(m map[string]any, key string, dst *string) {
	if v, ok := m[key].(string); ok && v != "" {
		*dst = v
	}
}

func setInt(m map[string]any, key string, dst *int) {
	switch t := m[key].(type) {
	case float64:
		*dst = int(t)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			*dst = i
		}
	}
}

func setBool(m map[string]any, key string, dst *bool) {
	if b, ok := m[key].(bool); ok {
		*dst = b
	}
}

func getStringSlice(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(arr))
	for _, it := range arr {
		if s, ok := it.(string); ok {
			res = append(res, s)
		}
	}
	return res
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.AppBaseURL == "" {
		c.AppBaseURL = "http://localhost:" + c.AppPort
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		switch c.DBDriver {
		case "postgres":
			c.DBPort = "5432"
		default:
			c.DBPort = "3306"
		}
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "accesso"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.StorageDriver == "" {
		c.StorageDriver = "local"
	}
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}
	if c.LocalStorageDir == "" {
		c.LocalStorageDir = filepath.Join(".", "static", "files")
	}
	if c.LocalStorageURL == "" {
		c.LocalStorageURL = "/static/files"
	}
	if c.StorageKeyPrefix == "" {
		c.StorageKeyPrefix = "accesso-files"
	}
	if c.MaxFileSizeMB == 0 {
		c.MaxFileSizeMB = 10
	}
	if c.MaxEntryChars == 0 {
		c.MaxEntryChars = 50000
	}
	if c.MaxTunnelChars == 0 {
		c.MaxTunnelChars = 500000
	}
	if c.DefaultExpiryHours == 0 {
		c.DefaultExpiryHours = 24
	}
	if c.GeoIPEndpoint == "" {
		c.GeoIPEndpoint = "https://api.cloudcpp.com/ip/"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("APP_BASE_URL", ""); v != "" {
		c.AppBaseURL = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("CRON_SECRET", ""); v != "" {
		c.CronSecret = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	c.AllowedOrigins = readListEnv("ALLOWED_ORIGINS", c.AllowedOrigins)
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("STORAGE_DRIVER", ""); v != "" {
		c.StorageDriver = strings.ToLower(v)
	}
	if v := getEnv("S3_REGION", ""); v != "" {
		c.S3Region = v
	}
	if v := getEnv("S3_BUCKET", ""); v != "" {
		c.S3Bucket = v
	}
	if v := getEnv("S3_ENDPOINT", ""); v != "" {
		c.S3Endpoint = v
	}
	if v := getEnv("S3_ACCESS_KEY", ""); v != "" {
		c.S3AccessKey = v
	}
	if v := getEnv("S3_SECRET_KEY", ""); v != "" {
		c.S3SecretKey = v
	}
	if v := getEnv("S3_PUBLIC_BASE_URL", ""); v != "" {
		c.S3PublicBaseURL = v
	}
	if v := getEnv("S3_PATH_STYLE", ""); v != "" {
		c.S3PathStyle = parseBool(v)
	}
	if v := getEnv("LOCAL_STORAGE_DIR", ""); v != "" {
		c.LocalStorageDir = v
	}
	if v := getEnv("LOCAL_STORAGE_URL", ""); v != "" {
		c.LocalStorageURL = v
	}
	if v := getEnv("MAX_FILE_SIZE_MB", ""); v != "" {
		c.MaxFileSizeMB = mustParseInt(v)
	}
	if v := getEnv("DEFAULT_EXPIRY_HOURS", ""); v != "" {
		c.DefaultExpiryHours = mustParseInt(v)
	}
	if v, ok := os.LookupEnv("CLEANUP_SCHEDULE"); ok {
		// empty string explicitly disables the in-process schedule
		c.CleanupSchedule = strings.TrimSpace(v)
	}
	if v := getEnv("CLICK_GEO_LOOKUP", ""); v != "" {
		c.ClickGeoLookup = parseBool(v)
	}
	if v := getEnv("GEOIP_ENDPOINT", ""); v != "" {
		c.GeoIPEndpoint = v
	}
	if v := getEnv("METRICS_ENABLED", ""); v != "" {
		c.MetricsEnabled = parseBool(v)
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = parseBool(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	return err == nil && b
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("failed to generate secret: %v", err)
	}
	return hex.EncodeToString(b)
}
