package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"workspace-realtime/internal/domain"

	"github.com/joho/godotenv"
)

// Config representa todas as configurações da aplicação
type Config struct {
	// Server Configuration
	ServerPort string
	GinMode    string
	// Proxies (IP ou CIDR) cujos X-Forwarded-For/X-Real-IP são aceitos; vazio confia em nenhum
	TrustedProxies []string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Storage Configuration
	StorageType   string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	DatabaseDSN   string
	// Intervalo da limpeza de janelas expiradas no storage em memória
	StorageCleanupInterval time.Duration

	// Seeds usados quando DATABASE_DSN está vazio
	DevUsers           string
	DevWorkspaceOwners string

	// Auth Configuration
	JWTSecret string
	JWTTTL    time.Duration

	// Alert Configuration
	AlertEmailTo    string
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	AlertWebhookURL string
	AlertMaxPerHour int

	// Blocklist Configuration
	BlockThreshold int
	BlockDuration  time.Duration
	BlockRecordTTL time.Duration

	// Notification Deriver Configuration
	NotifyWorkers   int
	NotifyQueueSize int
	OwnerCacheSize  int

	// Admin
	AdminKey string

	// Limits Configuration File
	LimitsConfigFile string

	// Limits contém as sobrescritas por classe de rota (arquivo + env)
	Limits map[domain.RouteClass]domain.LimitOverride
}

// limitEntry é o formato de uma classe no arquivo limits.json
type limitEntry struct {
	MaxRequests int    `json:"maxRequests"`
	Window      string `json:"window"`
	Message     string `json:"message"`
}

// LimitsFile representa a estrutura do arquivo limits.json
type LimitsFile struct {
	Limits map[string]limitEntry `json:"limits"`
}

// ConfigLoader carrega a configuração do ambiente e do arquivo de limites
type ConfigLoader struct {
	config *Config
}

// NewConfigLoader cria uma nova instância do ConfigLoader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// LoadConfig carrega as configurações do .env
func (c *ConfigLoader) LoadConfig() (*Config, error) {
	// Carrega o arquivo .env se existir
	if err := godotenv.Load(); err != nil {
		// Se não encontrar .env, continua com variáveis do sistema
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	config, err := c.loadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	limits, err := c.LoadLimitOverrides(config.LimitsConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load limit overrides: %w", err)
	}

	// Variáveis <CLASS>_LIMIT / <CLASS>_WINDOW têm precedência sobre o arquivo
	if err := applyEnvOverrides(limits); err != nil {
		return nil, fmt.Errorf("failed to load limit overrides: %w", err)
	}
	config.Limits = limits

	c.config = config
	return config, nil
}

// LoadLimitOverrides carrega as sobrescritas por classe do arquivo JSON
func (c *ConfigLoader) LoadLimitOverrides(path string) (map[domain.RouteClass]domain.LimitOverride, error) {
	overrides := make(map[domain.RouteClass]domain.LimitOverride)
	if path == "" {
		return overrides, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Warning: limits config file %s not found, using built-in defaults\n", path)
		return overrides, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read limits config file: %w", err)
	}

	var file LimitsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse limits config file: %w", err)
	}

	for name, entry := range file.Limits {
		class := domain.RouteClass(name)
		if !knownClass(class) {
			return nil, fmt.Errorf("unknown route class %q in limits config file", name)
		}
		if entry.MaxRequests < 0 {
			return nil, fmt.Errorf("invalid maxRequests for %s: must not be negative", name)
		}

		override := domain.LimitOverride{
			MaxRequests: entry.MaxRequests,
			Message:     entry.Message,
		}
		if entry.Window != "" {
			window, err := time.ParseDuration(entry.Window)
			if err != nil || window <= 0 {
				return nil, fmt.Errorf("invalid window for %s: %q", name, entry.Window)
			}
			override.Window = window
		}
		overrides[class] = override
	}

	return overrides, nil
}

// Reload recarrega todas as configurações
func (c *ConfigLoader) Reload() error {
	_, err := c.LoadConfig()
	return err
}

// GetConfig retorna a configuração atual
func (c *ConfigLoader) GetConfig() *Config {
	return c.config
}

// loadFromEnv carrega configurações das variáveis de ambiente
func (c *ConfigLoader) loadFromEnv() (*Config, error) {
	config := &Config{
		ServerPort: getEnvWithDefault("SERVER_PORT", "8080"),
		GinMode:    getEnvWithDefault("GIN_MODE", "debug"),

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),

		StorageType:   strings.ToLower(getEnvWithDefault("STORAGE_TYPE", "memory")),
		RedisHost:     getEnvWithDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvWithDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvWithDefault("REDIS_PASSWORD", ""),
		DatabaseDSN:   getEnvWithDefault("DATABASE_DSN", ""),

		DevUsers:           getEnvWithDefault("DEV_USERS", ""),
		DevWorkspaceOwners: getEnvWithDefault("DEV_WORKSPACE_OWNERS", ""),

		JWTSecret: getEnvWithDefault("JWT_SECRET", ""),

		AlertEmailTo:    getEnvWithDefault("ALERT_EMAIL_TO", ""),
		SMTPHost:        getEnvWithDefault("SMTP_HOST", ""),
		SMTPPort:        getEnvWithDefault("SMTP_PORT", "587"),
		SMTPUsername:    getEnvWithDefault("SMTP_USERNAME", ""),
		SMTPPassword:    getEnvWithDefault("SMTP_PASSWORD", ""),
		SMTPFrom:        getEnvWithDefault("SMTP_FROM", "security@localhost"),
		AlertWebhookURL: getEnvWithDefault("ALERT_WEBHOOK_URL", ""),

		AdminKey: getEnvWithDefault("ADMIN_KEY", ""),

		LimitsConfigFile: getEnvWithDefault("LIMITS_CONFIG_FILE", "internal/config/limits.json"),

		TrustedProxies: getListEnv("TRUSTED_PROXIES"),
	}

	var err error

	if config.RedisDB, err = getIntEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if config.AlertMaxPerHour, err = getIntEnv("ALERT_MAX_PER_HOUR", 10); err != nil {
		return nil, err
	}
	if config.BlockThreshold, err = getIntEnv("BLOCK_THRESHOLD", 10); err != nil {
		return nil, err
	}
	if config.NotifyWorkers, err = getIntEnv("NOTIFY_WORKERS", 4); err != nil {
		return nil, err
	}
	if config.NotifyQueueSize, err = getIntEnv("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if config.OwnerCacheSize, err = getIntEnv("OWNER_CACHE_SIZE", 1024); err != nil {
		return nil, err
	}

	if config.JWTTTL, err = getDurationEnv("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if config.BlockDuration, err = getDurationEnv("BLOCK_DURATION", 30*time.Minute); err != nil {
		return nil, err
	}
	if config.BlockRecordTTL, err = getDurationEnv("BLOCK_RECORD_TTL", time.Hour); err != nil {
		return nil, err
	}
	if config.StorageCleanupInterval, err = getDurationEnv("STORAGE_CLEANUP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	// Valida configurações obrigatórias
	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig valida se as configurações são válidas
func (c *ConfigLoader) validateConfig(config *Config) error {
	if config.StorageType != "memory" && config.StorageType != "redis" {
		return fmt.Errorf("STORAGE_TYPE must be memory or redis")
	}

	if config.RedisDB < 0 || config.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	if config.BlockThreshold <= 0 {
		return fmt.Errorf("BLOCK_THRESHOLD must be greater than 0")
	}

	if config.BlockDuration <= 0 {
		return fmt.Errorf("BLOCK_DURATION must be greater than 0")
	}

	if config.BlockRecordTTL <= 0 {
		return fmt.Errorf("BLOCK_RECORD_TTL must be greater than 0")
	}

	if config.AlertMaxPerHour <= 0 {
		return fmt.Errorf("ALERT_MAX_PER_HOUR must be greater than 0")
	}

	if config.NotifyWorkers <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS must be greater than 0")
	}

	if config.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be greater than 0")
	}

	if config.OwnerCacheSize <= 0 {
		return fmt.Errorf("OWNER_CACHE_SIZE must be greater than 0")
	}

	if config.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be greater than 0")
	}

	if config.GinMode == "release" && config.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in release mode")
	}

	if config.StorageCleanupInterval <= 0 {
		return fmt.Errorf("STORAGE_CLEANUP_INTERVAL must be greater than 0")
	}

	for _, proxy := range config.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy)
			}
		}
	}

	return nil
}

// applyEnvOverrides lê <CLASS>_LIMIT e <CLASS>_WINDOW para cada classe conhecida
func applyEnvOverrides(overrides map[domain.RouteClass]domain.LimitOverride) error {
	for _, class := range domain.AllRouteClasses() {
		prefix := EnvPrefix(class)
		override := overrides[class]
		changed := false

		if raw := os.Getenv(prefix + "_LIMIT"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				return fmt.Errorf("invalid %s_LIMIT value: %q", prefix, raw)
			}
			override.MaxRequests = limit
			changed = true
		}

		if raw := os.Getenv(prefix + "_WINDOW"); raw != "" {
			window, err := time.ParseDuration(raw)
			if err != nil || window <= 0 {
				return fmt.Errorf("invalid %s_WINDOW value: %q", prefix, raw)
			}
			override.Window = window
			changed = true
		}

		if changed {
			overrides[class] = override
		}
	}
	return nil
}

// EnvPrefix converte o nome da classe no prefixo da variável (invoice-create -> INVOICE_CREATE)
func EnvPrefix(class domain.RouteClass) string {
	return strings.ToUpper(strings.ReplaceAll(string(class), "-", "_"))
}

func knownClass(class domain.RouteClass) bool {
	for _, c := range domain.AllRouteClasses() {
		if c == class {
			return true
		}
	}
	return false
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value, err := strconv.Atoi(getEnvWithDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return value, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value, err := time.ParseDuration(getEnvWithDefault(key, defaultValue.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return value, nil
}

// getListEnv lê uma lista separada por vírgulas, descartando itens vazios
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvWithDefault retorna o valor da variável de ambiente ou um valor padrão
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
