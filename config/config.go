package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string
	LogDir      string
	UploadDir   string

	OpenAIAPIKey     string
	AnthropicAPIKey  string
	CompletionAPIURL string
	CompletionModel  string
	LLMServiceName   string
	LLMTimeout       time.Duration

	EmbeddingAPIURL    string
	EmbeddingModel     string
	EmbeddingDimension int

	MinChunkSize         int
	MaxChunkSize         int
	ChunkOverlap         int
	AssistedSegmentation bool

	ExtractionBatchSize   int
	ExtractionConcurrency int
	ConfidenceThreshold   float64
}

var isTest bool

func init() {
	isTest = os.Getenv("GO_ENVIRONMENT") == "test"
	if !isTest {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() Config {
	return Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8087"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		LogDir:      getEnv("LOG_DIR", "logs"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		CompletionAPIURL: getEnv("COMPLETION_API_URL", "https://api.openai.com/v1/chat/completions"),
		CompletionModel:  getEnv("COMPLETION_MODEL", "gpt-4o-mini"),
		LLMServiceName:   getEnv("LLM_SERVICE", "openai"),
		LLMTimeout:       time.Duration(getEnvAsInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,

		EmbeddingAPIURL:    getEnv("EMBEDDING_API_URL", "https://api.openai.com/v1/embeddings"),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),

		MinChunkSize:         getEnvAsInt("MIN_CHUNK_SIZE", 200),
		MaxChunkSize:         getEnvAsInt("MAX_CHUNK_SIZE", 1200),
		ChunkOverlap:         getEnvAsInt("CHUNK_OVERLAP", 100),
		AssistedSegmentation: getEnv("ASSISTED_SEGMENTATION", "true") == "true",

		ExtractionBatchSize:   getEnvAsInt("EXTRACTION_BATCH_SIZE", 5),
		ExtractionConcurrency: getEnvAsInt("EXTRACTION_CONCURRENCY", 3),
		ConfidenceThreshold:   getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}
