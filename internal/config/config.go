package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"scalper/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Trading  TradingConfig
	Risk     RiskConfig
	Tracker  TrackerConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
//
// API-ключи биржи попадают в окружение только зашифрованными (AES-256-GCM,
// base64). Ciphertext'ы готовятся утилитой cmd/credtool, plaintext живёт
// исключительно в памяти процесса.
type SecurityConfig struct {
	EncryptionKey      string // AES-256 ключ для шифрования API-ключей биржи (32 байта)
	APITokenHash       string // bcrypt-хеш токена управляющего API (пустой = auth отключен)
	APIKeyEncrypted    string // зашифрованный API key биржи
	APISecretEncrypted string // зашифрованный API secret биржи
}

// TradingConfig - параметры торговли
type TradingConfig struct {
	// Размер позиции и цели
	TargetProfitPct float64 // take profit, % от цены входа
	StopLossPct     float64 // stop loss, % от цены входа
	TrailingStopPct float64 // трейлинг-стоп, % (0 = отключён)
	MaxHoldingTime  time.Duration

	// Retry при отправке ордеров
	MaxRetries   int
	RetryBackoff time.Duration
	OrderTimeout time.Duration // таймаут одного сетевого вызова к бирже

	// Rate limit API биржи
	APIRateLimit float64 // запросов в секунду
	APIBurst     float64

	// Режим симуляции: ордера идут в PaperClient вместо реальной биржи
	DryRun bool
}

// RiskConfig - параметры риск-контура
type RiskConfig struct {
	MaxDailyLossPct           float64 // дневной лимит убытка, % от баланса
	EmergencyStopThresholdPct float64 // порог активации emergency stop, % от баланса
	CooldownMinutes           int     // охлаждение после emergency stop
	AutoRestart               bool    // автоматический выход из emergency stop после cooldown
	MaxOpenPositions          int
	MaxPositionSizePct        float64 // максимальный notional позиции, % от баланса
	MaxExposurePct            float64 // максимальная суммарная экспозиция, % от баланса
	MaxPositionLossPct        float64 // жёсткий лимит убытка одной позиции, %
	MaxConsecutiveLosses      int     // risk-событие при серии убыточных сделок
	MaxPositionsPerQuote      int     // risk-событие концентрации по котируемой валюте
	MonitorInterval           time.Duration
	ExpirySweepInterval       time.Duration
	DailyResetHourUTC         int
}

// TrackerConfig - параметры трекинга ордеров
type TrackerConfig struct {
	PollInterval       time.Duration // интервал опроса активных ордеров
	MaxOrderAge        time.Duration // максимальный возраст ордера в NEW до отмены
	PartialFillTimeout time.Duration // окно без прогресса исполнения для PARTIALLY_FILLED
	MinFilledFraction  float64       // порог доли исполнения для отмены залипшего ордера
	MaxPollFailures    int           // подряд неудачных опросов до прекращения трекинга
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "scalper"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:       getEnv("API_TOKEN_HASH", ""),
			APIKeyEncrypted:    getEnv("EXCHANGE_API_KEY_ENC", ""),
			APISecretEncrypted: getEnv("EXCHANGE_API_SECRET_ENC", ""),
		},
		Trading: TradingConfig{
			TargetProfitPct: getEnvAsFloat("TARGET_PROFIT_PCT", 0.8),
			StopLossPct:     getEnvAsFloat("STOP_LOSS_PCT", 0.4),
			TrailingStopPct: getEnvAsFloat("TRAILING_STOP_PCT", 0),
			MaxHoldingTime:  getEnvAsDuration("MAX_HOLDING_TIME", 30*time.Minute),
			MaxRetries:      getEnvAsInt("MAX_RETRIES", 4),
			RetryBackoff:    getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),
			OrderTimeout:    getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			APIRateLimit:    getEnvAsFloat("API_RATE_LIMIT", 10),
			APIBurst:        getEnvAsFloat("API_BURST", 20),
			DryRun:          getEnvAsBool("DRY_RUN", true),
		},
		Risk: RiskConfig{
			MaxDailyLossPct:           getEnvAsFloat("MAX_DAILY_LOSS_PCT", 1.0),
			EmergencyStopThresholdPct: getEnvAsFloat("EMERGENCY_STOP_THRESHOLD_PCT", 1.0),
			CooldownMinutes:           getEnvAsInt("EMERGENCY_STOP_COOLDOWN_MIN", 60),
			AutoRestart:               getEnvAsBool("EMERGENCY_STOP_AUTO_RESTART", false),
			MaxOpenPositions:          getEnvAsInt("MAX_OPEN_POSITIONS", 3),
			MaxPositionSizePct:        getEnvAsFloat("MAX_POSITION_SIZE_PCT", 5.0),
			MaxExposurePct:            getEnvAsFloat("MAX_EXPOSURE_PCT", 15.0),
			MaxPositionLossPct:        getEnvAsFloat("MAX_POSITION_LOSS_PCT", 2.0),
			MaxConsecutiveLosses:      getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 3),
			MaxPositionsPerQuote:      getEnvAsInt("MAX_POSITIONS_PER_QUOTE", 2),
			MonitorInterval:           getEnvAsDuration("RISK_MONITOR_INTERVAL", 5*time.Second),
			ExpirySweepInterval:       getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", 1*time.Minute),
			DailyResetHourUTC:         getEnvAsInt("DAILY_RESET_HOUR_UTC", 0),
		},
		Tracker: TrackerConfig{
			PollInterval:       getEnvAsDuration("ORDER_POLL_INTERVAL", 2*time.Second),
			MaxOrderAge:        getEnvAsDuration("MAX_ORDER_AGE", 30*time.Second),
			PartialFillTimeout: getEnvAsDuration("PARTIAL_FILL_TIMEOUT", 60*time.Second),
			MinFilledFraction:  getEnvAsFloat("MIN_FILLED_FRACTION", 0.01),
			MaxPollFailures:    getEnvAsInt("MAX_POLL_FAILURES", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен только при работе с реальной биржей:
	// dry-run не хранит реальных API ключей
	if !c.Trading.DryRun {
		if c.Security.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required for encrypting exchange API keys")
		}
		if len(c.Security.EncryptionKey) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
		}
		if c.Security.APIKeyEncrypted == "" || c.Security.APISecretEncrypted == "" {
			return fmt.Errorf("EXCHANGE_API_KEY_ENC and EXCHANGE_API_SECRET_ENC are required for live trading")
		}
	}
	return nil
}

// ExchangeCredentials расшифровывает API-ключи биржи
func (c *Config) ExchangeCredentials() (apiKey, apiSecret string, err error) {
	key := []byte(c.Security.EncryptionKey)

	apiKey, err = crypto.Decrypt(c.Security.APIKeyEncrypted, key)
	if err != nil {
		return "", "", fmt.Errorf("decrypt exchange API key: %w", err)
	}

	apiSecret, err = crypto.Decrypt(c.Security.APISecretEncrypted, key)
	if err != nil {
		return "", "", fmt.Errorf("decrypt exchange API secret: %w", err)
	}

	return apiKey, apiSecret, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Trading.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Trading.MaxRetries)
	}

	if c.Trading.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Trading.MaxRetries)
	}

	if c.Trading.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Trading.OrderTimeout)
	}

	if c.Trading.StopLossPct <= 0 {
		return fmt.Errorf("STOP_LOSS_PCT must be positive, got %v", c.Trading.StopLossPct)
	}

	if c.Trading.TargetProfitPct <= 0 {
		return fmt.Errorf("TARGET_PROFIT_PCT must be positive, got %v", c.Trading.TargetProfitPct)
	}

	if c.Risk.EmergencyStopThresholdPct <= 0 {
		return fmt.Errorf("EMERGENCY_STOP_THRESHOLD_PCT must be positive, got %v", c.Risk.EmergencyStopThresholdPct)
	}

	if c.Risk.MaxDailyLossPct <= 0 {
		return fmt.Errorf("MAX_DAILY_LOSS_PCT must be positive, got %v", c.Risk.MaxDailyLossPct)
	}

	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("MAX_OPEN_POSITIONS must be at least 1, got %d", c.Risk.MaxOpenPositions)
	}

	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 100 {
		return fmt.Errorf("MAX_POSITION_SIZE_PCT must be in (0, 100], got %v", c.Risk.MaxPositionSizePct)
	}

	if c.Risk.DailyResetHourUTC < 0 || c.Risk.DailyResetHourUTC > 23 {
		return fmt.Errorf("DAILY_RESET_HOUR_UTC must be between 0 and 23, got %d", c.Risk.DailyResetHourUTC)
	}

	if c.Tracker.MaxPollFailures < 1 {
		return fmt.Errorf("MAX_POLL_FAILURES must be at least 1, got %d", c.Tracker.MaxPollFailures)
	}

	if c.Tracker.MinFilledFraction < 0 || c.Tracker.MinFilledFraction > 1 {
		return fmt.Errorf("MIN_FILLED_FRACTION must be in [0, 1], got %v", c.Tracker.MinFilledFraction)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
