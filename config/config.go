package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries all runtime settings. Everything is read from the
// environment once at startup; a .env file is honoured if present.
type Config struct {
	// Server
	ListenAddr string

	// Collaborator credentials
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// Scorer
	ScorerModel   string
	ScorerTimeout time.Duration

	// TTS
	TTSVoiceID string
	TTSModelID string

	// Batch analysis
	BatchIntervalSeconds int

	// Durable store
	StorePath string
	TTLDays   int

	// Write-behind pipeline
	QueueSize              int
	WorkerCount            int
	FlushInterval          time.Duration
	ChunkBatchSize         int
	TranscriptionBatchSize int
	ImmediateHelpEvents    bool
	ImmediateBatchMetrics  bool
	ImmediateSummaries     bool

	// Session housekeeping
	SessionMaxAgeHours int
	RetainAudioPayload bool
}

// Load reads configuration from the environment. Defaults follow the
// production deployment; only the collaborator API keys are required,
// and those are validated by the callers that need them.
func Load() Config {
	return Config{
		ListenAddr:       getString("LISTEN_ADDR", ":3000"),
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPEN_AI_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVEN_LABS_API_KEY"),

		ScorerModel:   getString("SCORER_MODEL", "gpt-4o-mini"),
		ScorerTimeout: time.Duration(getInt("SCORER_TIMEOUT_SECONDS", 30)) * time.Second,

		TTSVoiceID: getString("TTS_VOICE_ID", "JBFqnCBsd6RMkjVDRZzb"),
		TTSModelID: getString("TTS_MODEL_ID", "eleven_multilingual_v2"),

		BatchIntervalSeconds: getInt("BATCH_INTERVAL_SECONDS", 60),

		StorePath: getString("STORE_PATH", "reading_sessions.sqlite"),
		TTLDays:   getInt("STORE_TTL_DAYS", 30),

		QueueSize:              getInt("PERSIST_QUEUE_SIZE", 1000),
		WorkerCount:            getInt("PERSIST_WORKER_COUNT", 2),
		FlushInterval:          time.Duration(getInt("PERSIST_FLUSH_INTERVAL_SECONDS", 5)) * time.Second,
		ChunkBatchSize:         getInt("PERSIST_CHUNK_BATCH_SIZE", 10),
		TranscriptionBatchSize: getInt("PERSIST_TRANSCRIPTION_BATCH_SIZE", 5),
		ImmediateHelpEvents:    getBool("PERSIST_IMMEDIATE_HELP_EVENTS", true),
		ImmediateBatchMetrics:  getBool("PERSIST_IMMEDIATE_BATCH_METRICS", true),
		ImmediateSummaries:     getBool("PERSIST_IMMEDIATE_SESSION_SUMMARY", true),

		SessionMaxAgeHours: getInt("SESSION_MAX_AGE_HOURS", 24),
		RetainAudioPayload: getBool("RETAIN_AUDIO_PAYLOAD", false),
	}
}

// RecordTTL is how long persisted records live before the expiry sweep
// removes them.
func (c Config) RecordTTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
