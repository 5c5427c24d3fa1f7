package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port          string
	SessionDir    string
	WebhookURL    string
	RabbitMQURL   string
	RabbitMQQueue string
	S3Config      *S3Config
}

type S3Config struct {
	Region     string
	AccessKey  string
	SecretKey  string
	BucketName string
	ServiceUrl string
	BucketUrl  string
}

// Load reads configuration from the environment, with .env support for
// local development. Environment variables take precedence.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file, relying on environment variables")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8081"),
		SessionDir:    getEnv("SESSION_DIR", "sessions"),
		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue: getEnv("RABBITMQ_QUEUE", "zapdesk_events"),
		S3Config: &S3Config{
			Region:     getEnv("S3_REGION", "us-east-1"),
			AccessKey:  os.Getenv("S3_ACCESS_KEY"),
			SecretKey:  os.Getenv("S3_SECRET_KEY"),
			BucketName: os.Getenv("S3_BUCKET"),
			ServiceUrl: getEnv("S3_ENDPOINT", "https://s3.amazonaws.com"),
			BucketUrl:  os.Getenv("S3_BUCKET_URL"),
		},
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt reads an integer env var with a fallback.
func GetEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
