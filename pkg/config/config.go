package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"estate-voice-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP           HTTPConfig           `json:"http"`
	Pipeline       PipelineConfig       `json:"pipeline"`
	STT            STTConfig            `json:"stt"`
	TTS            TTSConfig            `json:"tts"`
	Logging        LoggingConfig        `json:"logging"`
	Messaging      MessagingConfig      `json:"messaging"`
	Redis          RedisConfig          `json:"redis"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Tracing        TracingConfig        `json:"tracing"`
}

// HTTPConfig holds the REST and WebSocket listener settings
type HTTPConfig struct {
	Port            int           `json:"port" env:"HTTP_PORT" default:"8080"`
	Enabled         bool          `json:"enabled" env:"HTTP_ENABLED" default:"true"`
	EnableMetrics   bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`

	// Largest audio body accepted by the batch endpoint or a single socket frame
	MaxAudioBytes int64 `json:"max_audio_bytes" env:"HTTP_MAX_AUDIO_BYTES" default:"2097152"`

	// Per-connection ingress limit for streamed chunks
	ChunksPerSecond float64 `json:"chunks_per_second" env:"WS_CHUNKS_PER_SECOND" default:"20"`
	ChunkBurst      int     `json:"chunk_burst" env:"WS_CHUNK_BURST" default:"40"`
}

// PipelineConfig controls the voice processing loop
type PipelineConfig struct {
	SampleRate      int           `json:"sample_rate" env:"PIPELINE_SAMPLE_RATE" default:"16000"`
	LatencyTarget   time.Duration `json:"latency_target" env:"PIPELINE_LATENCY_TARGET" default:"2s"`
	HardDeadline    time.Duration `json:"hard_deadline" env:"PIPELINE_HARD_DEADLINE" default:"2s"`
	NoiseThreshold  float64       `json:"noise_threshold" env:"PIPELINE_NOISE_THRESHOLD" default:"0.2"`
	VADMode         int           `json:"vad_mode" env:"PIPELINE_VAD_MODE" default:"2"`
	FrameDuration   time.Duration `json:"frame_duration" env:"PIPELINE_FRAME_DURATION" default:"30ms"`
	MinSpeech       time.Duration `json:"min_speech" env:"PIPELINE_MIN_SPEECH" default:"100ms"`
	CacheSize       int           `json:"cache_size" env:"TRANSCRIPTION_CACHE_SIZE" default:"1000"`
	CachePrefixSize int           `json:"cache_prefix_size" env:"TRANSCRIPTION_CACHE_PREFIX_BYTES" default:"32000"`
	CacheTTL        time.Duration `json:"cache_ttl" env:"TRANSCRIPTION_CACHE_TTL" default:"1h"`

	// RMS energy above which an unlabelled utterance is treated as excited
	ExcitedEnergy float64 `json:"excited_energy" env:"EMOTION_EXCITED_ENERGY" default:"0.3"`

	// 0 keeps every detected objection
	MaxObjections int `json:"max_objections" env:"PIPELINE_MAX_OBJECTIONS" default:"0"`

	// 0 seeds template selection from the clock
	TemplateSeed int64 `json:"template_seed" env:"RESPONSE_TEMPLATE_SEED" default:"0"`

	SessionIdleTimeout time.Duration `json:"session_idle_timeout" env:"SESSION_IDLE_TIMEOUT" default:"30m"`
	SessionSweep       time.Duration `json:"session_sweep" env:"SESSION_SWEEP_INTERVAL" default:"1m"`
}

// STTConfig selects and configures the speech-to-text vendor
type STTConfig struct {
	Provider string        `json:"provider" env:"STT_PROVIDER" default:"mock"`
	Language string        `json:"language" env:"STT_LANGUAGE" default:"en-US"`
	Timeout  time.Duration `json:"timeout" env:"STT_TIMEOUT" default:"1500ms"`

	Google GoogleSTTConfig `json:"google"`
	Amazon AmazonSTTConfig `json:"amazon"`
	OpenAI OpenAISTTConfig `json:"openai"`
}

// GoogleSTTConfig holds Google Cloud Speech settings
type GoogleSTTConfig struct {
	CredentialsFile string `json:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	APIKey          string `json:"api_key" env:"GOOGLE_STT_API_KEY"`
	Model           string `json:"model" env:"GOOGLE_STT_MODEL" default:"phone_call"`
	EnhancedModel   bool   `json:"enhanced_model" env:"GOOGLE_STT_ENHANCED" default:"true"`
}

// AmazonSTTConfig holds Amazon Transcribe streaming settings
type AmazonSTTConfig struct {
	Region          string `json:"region" env:"AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `json:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
}

// OpenAISTTConfig holds OpenAI transcription settings
type OpenAISTTConfig struct {
	APIKey  string `json:"api_key" env:"OPENAI_API_KEY"`
	Model   string `json:"model" env:"OPENAI_STT_MODEL" default:"whisper-1"`
	BaseURL string `json:"base_url" env:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
}

// TTSConfig selects and configures the text-to-speech vendor
type TTSConfig struct {
	Provider       string        `json:"provider" env:"TTS_PROVIDER" default:"mock"`
	DefaultVoice   string        `json:"default_voice" env:"TTS_DEFAULT_VOICE" default:"professional"`
	Streaming      bool          `json:"streaming" env:"TTS_STREAMING" default:"false"`
	Timeout        time.Duration `json:"timeout" env:"TTS_TIMEOUT" default:"1500ms"`
	AudioStoreSize int           `json:"audio_store_size" env:"TTS_AUDIO_STORE_SIZE" default:"500"`
	AudioStoreTTL  time.Duration `json:"audio_store_ttl" env:"TTS_AUDIO_STORE_TTL" default:"15m"`
	PublicBaseURL  string        `json:"public_base_url" env:"TTS_PUBLIC_BASE_URL" default:"/api/v1/audio"`

	ElevenLabs ElevenLabsTTSConfig `json:"elevenlabs"`
}

// ElevenLabsTTSConfig holds ElevenLabs settings
type ElevenLabsTTSConfig struct {
	APIKey  string `json:"api_key" env:"ELEVENLABS_API_KEY"`
	BaseURL string `json:"base_url" env:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io/v1"`
	ModelID string `json:"model_id" env:"ELEVENLABS_MODEL_ID" default:"eleven_turbo_v2"`
}

// LoggingConfig holds logging-related configurations
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"json"`
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// MessagingConfig holds the analytics event feed settings
type MessagingConfig struct {
	Enabled        bool          `json:"enabled" env:"AMQP_ENABLED" default:"false"`
	AMQPUrl        string        `json:"amqp_url" env:"AMQP_URL"`
	ExchangeName   string        `json:"exchange_name" env:"AMQP_EXCHANGE_NAME" default:"voice.events"`
	RoutingKey     string        `json:"routing_key" env:"AMQP_ROUTING_KEY" default:"conversation"`
	QueueName      string        `json:"queue_name" env:"AMQP_QUEUE_NAME" default:"voice_analytics"`
	Durable        bool          `json:"durable" env:"AMQP_DURABLE" default:"true"`
	ConnectTimeout time.Duration `json:"connect_timeout" env:"AMQP_CONNECT_TIMEOUT" default:"10s"`
	MaxReconnect   time.Duration `json:"max_reconnect" env:"AMQP_MAX_RECONNECT_ELAPSED" default:"2m"`
}

// RedisConfig holds the session record store settings
type RedisConfig struct {
	Enabled   bool          `json:"enabled" env:"REDIS_ENABLED" default:"false"`
	Address   string        `json:"address" env:"REDIS_ADDRESS" default:"localhost:6379"`
	Password  string        `json:"password" env:"REDIS_PASSWORD"`
	Database  int           `json:"database" env:"REDIS_DATABASE" default:"0"`
	KeyPrefix string        `json:"key_prefix" env:"REDIS_KEY_PREFIX" default:"voice:session:"`
	TTL       time.Duration `json:"ttl" env:"REDIS_SESSION_TTL" default:"24h"`
	PoolSize  int           `json:"pool_size" env:"REDIS_POOL_SIZE" default:"20"`
}

// CircuitBreakerConfig protects external speech providers
type CircuitBreakerConfig struct {
	Enabled bool `json:"enabled" env:"CIRCUIT_BREAKER_ENABLED" default:"true"`

	STTFailureThreshold int64         `json:"stt_failure_threshold" env:"STT_CB_FAILURE_THRESHOLD" default:"3"`
	STTTimeout          time.Duration `json:"stt_timeout" env:"STT_CB_TIMEOUT" default:"30s"`

	TTSFailureThreshold int64         `json:"tts_failure_threshold" env:"TTS_CB_FAILURE_THRESHOLD" default:"3"`
	TTSTimeout          time.Duration `json:"tts_timeout" env:"TTS_CB_TIMEOUT" default:"30s"`
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled     bool    `json:"enabled" env:"OTEL_TRACING_ENABLED" default:"false"`
	Endpoint    string  `json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `json:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
	ServiceName string  `json:"service_name" env:"OTEL_SERVICE_NAME" default:"estate-voice-server"`
	SampleRatio float64 `json:"sample_ratio" env:"OTEL_TRACES_SAMPLER_RATIO" default:"1.0"`
}

// Load reads .env files (when present) and the environment into a validated Config
func Load(logger *logrus.Logger) (*Config, error) {
	loadEnvFile(logger)

	config := &Config{}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}
	if err := loadPipelineConfig(logger, &config.Pipeline); err != nil {
		return nil, errors.Wrap(err, "failed to load pipeline configuration")
	}
	if err := loadSTTConfig(logger, &config.STT); err != nil {
		return nil, errors.Wrap(err, "failed to load STT configuration")
	}
	if err := loadTTSConfig(logger, &config.TTS); err != nil {
		return nil, errors.Wrap(err, "failed to load TTS configuration")
	}
	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}
	if err := loadMessagingConfig(logger, &config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}
	loadRedisConfig(&config.Redis)
	loadCircuitBreakerConfig(&config.CircuitBreaker)
	loadTracingConfig(&config.Tracing)

	if err := validateConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return config, nil
}

func loadEnvFile(logger *logrus.Logger) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	for _, envFile := range []string{".env", "../.env"} {
		if _, statErr := os.Stat(envFile); statErr != nil {
			continue
		}
		absPath, _ := filepath.Abs(envFile)
		if loadErr := godotenv.Load(envFile); loadErr != nil {
			logger.WithError(loadErr).WithField("path", absPath).Warn("Failed to parse .env file")
			continue
		}
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        absPath,
		}).Info("Successfully loaded .env file")
		return
	}

	logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	port := getEnvInt("HTTP_PORT", 8080)
	if port < 1 || port > 65535 {
		logger.Warn("Invalid HTTP_PORT value, using default: 8080")
		port = 8080
	}
	config.Port = port

	config.Enabled = getEnvBool("HTTP_ENABLED", true)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second)
	config.MaxAudioBytes = int64(getEnvInt("HTTP_MAX_AUDIO_BYTES", 2*1024*1024))
	config.ChunksPerSecond = getEnvFloat("WS_CHUNKS_PER_SECOND", 20)
	config.ChunkBurst = getEnvInt("WS_CHUNK_BURST", 40)

	return nil
}

func loadPipelineConfig(logger *logrus.Logger, config *PipelineConfig) error {
	config.SampleRate = getEnvInt("PIPELINE_SAMPLE_RATE", 16000)
	config.LatencyTarget = getEnvDuration("PIPELINE_LATENCY_TARGET", 2*time.Second)
	config.HardDeadline = getEnvDuration("PIPELINE_HARD_DEADLINE", config.LatencyTarget)
	config.NoiseThreshold = getEnvFloat("PIPELINE_NOISE_THRESHOLD", 0.2)
	config.FrameDuration = getEnvDuration("PIPELINE_FRAME_DURATION", 30*time.Millisecond)
	config.MinSpeech = getEnvDuration("PIPELINE_MIN_SPEECH", 100*time.Millisecond)
	config.CacheSize = getEnvInt("TRANSCRIPTION_CACHE_SIZE", 1000)
	config.CachePrefixSize = getEnvInt("TRANSCRIPTION_CACHE_PREFIX_BYTES", 32000)
	config.CacheTTL = getEnvDuration("TRANSCRIPTION_CACHE_TTL", time.Hour)
	config.ExcitedEnergy = getEnvFloat("EMOTION_EXCITED_ENERGY", 0.3)
	config.MaxObjections = getEnvInt("PIPELINE_MAX_OBJECTIONS", 0)
	config.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	config.SessionSweep = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute)

	seed, err := strconv.ParseInt(getEnv("RESPONSE_TEMPLATE_SEED", "0"), 10, 64)
	if err != nil {
		logger.Warn("Invalid RESPONSE_TEMPLATE_SEED, using clock seed")
		seed = 0
	}
	config.TemplateSeed = seed

	mode := getEnvInt("PIPELINE_VAD_MODE", 2)
	if mode < 0 || mode > 3 {
		logger.Warnf("Invalid PIPELINE_VAD_MODE %d, must be 0-3, defaulting to 2", mode)
		mode = 2
	}
	config.VADMode = mode

	return nil
}

func loadSTTConfig(logger *logrus.Logger, config *STTConfig) error {
	config.Provider = strings.ToLower(getEnv("STT_PROVIDER", "mock"))
	config.Language = getEnv("STT_LANGUAGE", "en-US")
	config.Timeout = getEnvDuration("STT_TIMEOUT", 1500*time.Millisecond)

	config.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	config.Google.APIKey = getEnv("GOOGLE_STT_API_KEY", "")
	config.Google.Model = getEnv("GOOGLE_STT_MODEL", "phone_call")
	config.Google.EnhancedModel = getEnvBool("GOOGLE_STT_ENHANCED", true)

	config.Amazon.Region = getEnv("AWS_REGION", "us-east-1")
	config.Amazon.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	config.Amazon.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")

	config.OpenAI.APIKey = getEnv("OPENAI_API_KEY", "")
	config.OpenAI.Model = getEnv("OPENAI_STT_MODEL", "whisper-1")
	config.OpenAI.BaseURL = strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/")

	switch config.Provider {
	case "mock", "google", "amazon", "openai":
	default:
		return errors.NewInvalidInput(fmt.Sprintf("unsupported STT_PROVIDER: %s", config.Provider))
	}

	if config.Provider == "openai" && config.OpenAI.APIKey == "" {
		logger.Warn("STT_PROVIDER=openai but OPENAI_API_KEY is empty")
	}

	return nil
}

func loadTTSConfig(logger *logrus.Logger, config *TTSConfig) error {
	config.Provider = strings.ToLower(getEnv("TTS_PROVIDER", "mock"))
	config.DefaultVoice = getEnv("TTS_DEFAULT_VOICE", "professional")
	config.Streaming = getEnvBool("TTS_STREAMING", false)
	config.Timeout = getEnvDuration("TTS_TIMEOUT", 1500*time.Millisecond)
	config.AudioStoreSize = getEnvInt("TTS_AUDIO_STORE_SIZE", 500)
	config.AudioStoreTTL = getEnvDuration("TTS_AUDIO_STORE_TTL", 15*time.Minute)
	config.PublicBaseURL = strings.TrimRight(getEnv("TTS_PUBLIC_BASE_URL", "/api/v1/audio"), "/")

	config.ElevenLabs.APIKey = getEnv("ELEVENLABS_API_KEY", "")
	config.ElevenLabs.BaseURL = strings.TrimRight(getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"), "/")
	config.ElevenLabs.ModelID = getEnv("ELEVENLABS_MODEL_ID", "eleven_turbo_v2")

	switch config.Provider {
	case "mock", "elevenlabs":
	default:
		return errors.NewInvalidInput(fmt.Sprintf("unsupported TTS_PROVIDER: %s", config.Provider))
	}

	if config.Provider == "elevenlabs" && config.ElevenLabs.APIKey == "" {
		logger.Warn("TTS_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is empty")
	}

	return nil
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	config.Level = getEnv("LOG_LEVEL", "info")
	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")

	return nil
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) error {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.Enabled = getEnvBool("AMQP_ENABLED", config.AMQPUrl != "")
	config.ExchangeName = getEnv("AMQP_EXCHANGE_NAME", "voice.events")
	config.RoutingKey = getEnv("AMQP_ROUTING_KEY", "conversation")
	config.QueueName = getEnv("AMQP_QUEUE_NAME", "voice_analytics")
	config.Durable = getEnvBool("AMQP_DURABLE", true)
	config.ConnectTimeout = getEnvDuration("AMQP_CONNECT_TIMEOUT", 10*time.Second)
	config.MaxReconnect = getEnvDuration("AMQP_MAX_RECONNECT_ELAPSED", 2*time.Minute)

	if config.Enabled && config.AMQPUrl == "" {
		logger.Warn("AMQP_ENABLED=true but AMQP_URL is empty; analytics events will not be published")
		config.Enabled = false
	}

	return nil
}

func loadRedisConfig(config *RedisConfig) {
	config.Enabled = getEnvBool("REDIS_ENABLED", false)
	config.Address = getEnv("REDIS_ADDRESS", "localhost:6379")
	config.Password = getEnv("REDIS_PASSWORD", "")
	config.Database = getEnvInt("REDIS_DATABASE", 0)
	config.KeyPrefix = getEnv("REDIS_KEY_PREFIX", "voice:session:")
	config.TTL = getEnvDuration("REDIS_SESSION_TTL", 24*time.Hour)
	config.PoolSize = getEnvInt("REDIS_POOL_SIZE", 20)
}

func loadCircuitBreakerConfig(config *CircuitBreakerConfig) {
	config.Enabled = getEnvBool("CIRCUIT_BREAKER_ENABLED", true)
	config.STTFailureThreshold = int64(getEnvInt("STT_CB_FAILURE_THRESHOLD", 3))
	config.STTTimeout = getEnvDuration("STT_CB_TIMEOUT", 30*time.Second)
	config.TTSFailureThreshold = int64(getEnvInt("TTS_CB_FAILURE_THRESHOLD", 3))
	config.TTSTimeout = getEnvDuration("TTS_CB_TIMEOUT", 30*time.Second)
}

func loadTracingConfig(config *TracingConfig) {
	config.Enabled = getEnvBool("OTEL_TRACING_ENABLED", false)
	config.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	config.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	config.ServiceName = getEnv("OTEL_SERVICE_NAME", "estate-voice-server")
	config.SampleRatio = getEnvFloat("OTEL_TRACES_SAMPLER_RATIO", 1.0)
}

func validateConfig(logger *logrus.Logger, config *Config) error {
	p := config.Pipeline

	if p.SampleRate <= 0 {
		return errors.NewInvalidInput("PIPELINE_SAMPLE_RATE must be positive")
	}
	if p.LatencyTarget <= 0 {
		return errors.NewInvalidInput("PIPELINE_LATENCY_TARGET must be a positive duration")
	}
	if p.HardDeadline < p.LatencyTarget {
		logger.Warn("PIPELINE_HARD_DEADLINE is shorter than the latency target; responses may degrade before the SLA is breached")
	}
	if p.FrameDuration != 10*time.Millisecond && p.FrameDuration != 20*time.Millisecond && p.FrameDuration != 30*time.Millisecond {
		return errors.NewInvalidInput(fmt.Sprintf("PIPELINE_FRAME_DURATION must be 10ms, 20ms or 30ms, got %s", p.FrameDuration))
	}
	if p.CacheSize <= 0 {
		return errors.NewInvalidInput("TRANSCRIPTION_CACHE_SIZE must be positive")
	}
	if p.NoiseThreshold <= 0 || p.NoiseThreshold >= 1 {
		return errors.NewInvalidInput("PIPELINE_NOISE_THRESHOLD must be in (0, 1)")
	}
	if p.MaxObjections < 0 {
		return errors.NewInvalidInput("PIPELINE_MAX_OBJECTIONS cannot be negative")
	}

	if config.HTTP.MaxAudioBytes <= 0 {
		return errors.NewInvalidInput("HTTP_MAX_AUDIO_BYTES must be positive")
	}

	if config.Tracing.Enabled && config.Tracing.Endpoint == "" {
		logger.Warn("OTEL_TRACING_ENABLED=true without OTEL_EXPORTER_OTLP_ENDPOINT; spans stay local")
	}

	if config.Logging.OutputFile != "" {
		f, err := os.OpenFile(config.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("cannot write to log file: %s", config.Logging.OutputFile))
		}
		f.Close()
	}

	return nil
}

// ApplyLogging applies the logging section to logger
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}
