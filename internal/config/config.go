package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration
type Config struct {
	Port           string
	DBConn         string
	LogLevel       string
	JWTSecret      string
	CBRURL         string
	SMTPHost       string
	SMTPPort       string
	SMTPUsername   string
	SMTPPassword   string
	SenderEmail    string
	RiskRecipients string
	DashboardURL   string
	SummaryCron    string
	OverdueCron    string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBConn:         getEnv("DB_CONN", "host=localhost port=5432 user=lms password=lms dbname=lms sslmode=disable"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:      getEnv("JWT_SECRET", "secret"),
		CBRURL:         getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       getEnv("SMTP_PORT", "587"),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SenderEmail:    getEnv("SENDER_EMAIL", "alerts@optifluence.local"),
		RiskRecipients: getEnv("RISK_RECIPIENTS", ""),
		DashboardURL:   getEnv("DASHBOARD_URL", "http://localhost:8080/loans/risk-dashboard/"),
		SummaryCron:    getEnv("RISK_SUMMARY_CRON", "0 7 * * *"),
		OverdueCron:    getEnv("OVERDUE_SWEEP_CRON", "30 0 * * *"),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if _, err := strconv.Atoi(cfg.SMTPPort); err != nil {
		return nil, fmt.Errorf("SMTP_PORT must be numeric: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
