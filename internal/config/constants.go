package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "storyloom"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
	defaultRedisDB    = 0

	StorageDriverS3    = "s3"
	StorageDriverLocal = "local"

	defaultStorageDriver  = StorageDriverLocal
	defaultAudioBucket    = "recordings"
	defaultImageBucket    = "story-images"
	defaultTTSBucket      = "tts-audio"
	defaultLocalRoot      = "storage"
	defaultSignedURLTTL   = time.Hour
	defaultMongoDatabase  = "storyloom"
	defaultMongoEmbedColl = "story_embeddings"

	defaultAIProviderType     = "openai"
	defaultChatModel          = "gpt-4o-mini"
	defaultTranscriptionModel = "whisper-1"
	defaultSpeechModel        = "tts-1"
	defaultEmbeddingModel     = "text-embedding-3-small"
	defaultVoice              = "alloy"

	defaultTTSPollAttempts   = 20
	defaultTTSPollBase       = 1500 * time.Millisecond
	defaultTTSPollStep       = 250 * time.Millisecond
	defaultTTSPollMax        = 1750 * time.Millisecond
	defaultMaxRecordingBytes = 25 << 20
	defaultMaxTurns          = 15
	defaultSpeechWorkers     = 2
	defaultDeleteLockTTL     = 30 * time.Second
	defaultCacheTTL          = 15 * time.Second
)
