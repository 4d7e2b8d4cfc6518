package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// StoreDriver はジョブと変換結果の保存先です
type StoreDriver string

const (
	StoreDriverMemory   StoreDriver = "memory"
	StoreDriverPostgres StoreDriver = "postgres"
	StoreDriverSQLite   StoreDriver = "sqlite"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定（STORE_DRIVER=postgres の場合のみ使用）
	Database DatabaseConfig

	Store StoreConfig

	// OpenAI設定（変換エンジン）
	OpenAI OpenAIConfig

	// チャンク処理のリトライ・タイムアウト
	Engine EngineConfig

	Orchestrator OrchestratorConfig

	Dataset DatasetConfig

	Server ServerConfig

	// NATS設定。URLが空なら状態通知を行わない
	NATS NATSConfig

	Tracing TracingConfig

	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnString はpgx用の接続文字列を返します
func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// StoreConfig は永続化先の設定
type StoreConfig struct {
	Driver     StoreDriver
	SQLitePath string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	// ErrorLogDir は失敗したAPI呼び出しのJSONLログ出力先。空なら出力しない
	ErrorLogDir string
}

// EngineConfig はチャンク単位のエンジン呼び出し設定
type EngineConfig struct {
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ChunkTimeout     time.Duration
	ChunkParallelism int
}

// OrchestratorConfig はジョブ実行のデフォルト値
type OrchestratorConfig struct {
	DefaultChunkSize      int
	DefaultRowConcurrency int
	ShutdownTimeout       time.Duration
}

// DatasetConfig はデータセットファイルの配置
type DatasetConfig struct {
	Dir string
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Addr string
}

// NATSConfig は状態通知の送信先
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Token         string
}

// TracingConfig はOpenTelemetryの設定。Endpointが空なら無効
type TracingConfig struct {
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRatio    float64
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "surveytwin"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "surveytwin"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Store: StoreConfig{
			Driver:     StoreDriver(getEnv("STORE_DRIVER", string(StoreDriverMemory))),
			SQLitePath: getEnv("SQLITE_PATH", "./data/survey-twin.db"),
		},
		OpenAI: OpenAIConfig{
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			Model:             getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:           getEnv("OPENAI_BASE_URL", ""),
			Temperature:       getEnvAsFloat("OPENAI_TEMPERATURE", 0.3),
			MaxTokens:         getEnvAsInt("OPENAI_MAX_TOKENS", 2048),
			RequestsPerMinute: getEnvAsInt("OPENAI_REQUESTS_PER_MINUTE", 500),
			ErrorLogDir:       getEnv("LLM_ERROR_LOG_DIR", ""),
		},
		Engine: EngineConfig{
			MaxRetries:       getEnvAsInt("CHUNK_MAX_RETRIES", 3),
			InitialBackoff:   getEnvAsDuration("CHUNK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:       getEnvAsDuration("CHUNK_MAX_BACKOFF", 30*time.Second),
			ChunkTimeout:     getEnvAsDuration("CHUNK_TIMEOUT", 60*time.Second),
			ChunkParallelism: getEnvAsInt("CHUNK_PARALLELISM", 1),
		},
		Orchestrator: OrchestratorConfig{
			DefaultChunkSize:      getEnvAsInt("DEFAULT_CHUNK_SIZE", 20),
			DefaultRowConcurrency: getEnvAsInt("DEFAULT_ROW_CONCURRENCY", 3),
			ShutdownTimeout:       getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Dataset: DatasetConfig{
			Dir: getEnv("DATASET_DIR", "./data/datasets"),
		},
		Server: ServerConfig{
			Addr: getEnv("SERVER_ADDR", ":8080"),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "surveytwin.transform"),
			Token:         getEnv("NATS_TOKEN", ""),
		},
		Tracing: TracingConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "survey-twin"),
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
			Environment:    getEnv("DEPLOYMENT_ENVIRONMENT", "development"),
			SampleRatio:    getEnvAsFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の組み合わせを検証します
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverPostgres:
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (memory, postgres, sqlite)", c.Store.Driver)
	}
	if c.Engine.MaxRetries < 0 {
		return errors.New("CHUNK_MAX_RETRIES must not be negative")
	}
	if c.Orchestrator.DefaultChunkSize < 1 || c.Orchestrator.DefaultRowConcurrency < 1 {
		return errors.New("DEFAULT_CHUNK_SIZE and DEFAULT_ROW_CONCURRENCY must be at least 1")
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
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

// getEnvAsFloat は環境変数を浮動小数点数として取得します
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

// getEnvAsDuration は環境変数を"30s"形式の期間として取得します
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
