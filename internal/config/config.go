package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// 充电日志
	DataDir string
	VIN     string

	// 导出文件根目录，导出路径不能超出此目录
	ExportDir string

	// Database（可选，仅用于持久化偏好设置）
	DatabaseURL string

	// Tesla API
	TeslaAuthHost string
	TeslaAPIHost  string
	TeslaClientID string

	// Polling
	PollIntervalOnline   time.Duration
	PollIntervalAsleep   time.Duration
	PollIntervalCharging time.Duration

	// Token 存储路径
	TokenFile string

	// SMTP，Host 为空时不发送邮件
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// 覆盖选装代码解析出的电池类型
	BatteryType string

	// 偏好设置默认值
	SubmitAnonData bool
	IncludeLocData bool
	DitherAmount   float64
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:           getEnv("PORT", "4000"),
		Debug:                getEnvBool("DEBUG", false),
		DataDir:              getEnv("DATA_DIR", "data"),
		VIN:                  getEnv("VIN", ""),
		ExportDir:            getEnv("EXPORT_DIR", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		TeslaAuthHost:        getEnv("TESLA_AUTH_HOST", "https://auth.tesla.com"),
		TeslaAPIHost:         getEnv("TESLA_API_HOST", "https://owner-api.teslamotors.com"),
		TeslaClientID:        getEnv("TESLA_CLIENT_ID", "ownerapi"),
		PollIntervalOnline:   getEnvDuration("POLL_INTERVAL_ONLINE", 60*time.Second),
		PollIntervalAsleep:   getEnvDuration("POLL_INTERVAL_ASLEEP", 5*time.Minute),
		PollIntervalCharging: getEnvDuration("POLL_INTERVAL_CHARGING", 30*time.Second),
		TokenFile:            getEnv("TOKEN_FILE", "tokens.json"),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnvInt("SMTP_PORT", 587),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:             getEnv("SMTP_FROM", ""),
		BatteryType:          getEnv("BATTERY_TYPE", ""),
		SubmitAnonData:       getEnvBool("SUBMIT_ANON_DATA", false),
		IncludeLocData:       getEnvBool("INCLUDE_LOC_DATA", false),
		DitherAmount:         getEnvFloat("DITHER_AMOUNT", 3),
	}

	if cfg.DitherAmount < 0 || cfg.DitherAmount > 10 {
		return nil, fmt.Errorf("DITHER_AMOUNT %v out of range [0, 10]", cfg.DitherAmount)
	}
	for name, d := range map[string]time.Duration{
		"POLL_INTERVAL_ONLINE":   cfg.PollIntervalOnline,
		"POLL_INTERVAL_ASLEEP":   cfg.PollIntervalAsleep,
		"POLL_INTERVAL_CHARGING": cfg.PollIntervalCharging,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = filepath.Join(cfg.DataDir, "exports")
	}
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUsername
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
