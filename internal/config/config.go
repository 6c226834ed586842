package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries all environment-supplied settings. Both external
// collaborators require credentials; the database is a filesystem path.
type Config struct {
	SlackBotToken string
	OpenAIAPIKey  string
	DatabasePath  string
	Port          string

	WindowDays       int
	ChannelBatchSize int
	HistoryLimit     int
	Schedule         string

	LogLevel    string
	LogFormat   string
	Environment string
}

// Load reads configuration from the environment, pulling in a local .env
// file first outside production.
func Load() *Config {
	if os.Getenv("ENVIRONMENT") != "production" {
		_ = godotenv.Load()
	}

	return &Config{
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		DatabasePath:     os.Getenv("DATABASE_PATH"),
		Port:             os.Getenv("PORT"),
		WindowDays:       getIntOrDefault("WINDOW_DAYS", 90),
		ChannelBatchSize: getIntOrDefault("CHANNEL_BATCH_SIZE", 3),
		HistoryLimit:     getIntOrDefault("HISTORY_LIMIT", 200),
		Schedule:         os.Getenv("ANALYSIS_SCHEDULE"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:        getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:      getEnvOrDefault("ENVIRONMENT", "development"),
	}
}

// Validate returns the first configuration problem found. Any error here is
// fatal at startup.
func (c *Config) Validate() error {
	var problems []string

	if c.SlackBotToken == "" {
		problems = append(problems, "SLACK_BOT_TOKEN is required")
	}
	if c.SlackBotToken != "" && !strings.HasPrefix(c.SlackBotToken, "xoxb-") {
		problems = append(problems, "SLACK_BOT_TOKEN must start with 'xoxb-'")
	}
	if c.OpenAIAPIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}
	if c.DatabasePath == "" {
		problems = append(problems, "DATABASE_PATH is required")
	}
	if c.WindowDays <= 0 {
		problems = append(problems, "WINDOW_DAYS must be positive")
	}
	if c.ChannelBatchSize <= 0 {
		problems = append(problems, "CHANNEL_BATCH_SIZE must be positive")
	}
	if c.HistoryLimit <= 0 {
		problems = append(problems, "HISTORY_LIMIT must be positive")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	if len(problems) > 0 {
		return errors.New(problems[0])
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s=%q is not an integer, using %d\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
