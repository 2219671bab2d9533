package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	Env            string                `yaml:"env"` // "development" | "production"
	DSN            string                `yaml:"dsn"` // MySQL DSN
	RedisURL       string                `yaml:"redis_url"`
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	Storage        StorageConfig         `yaml:"storage"`
	Mongo          MongoConfig           `yaml:"mongo"`
	AI             AIProvider            `yaml:"ai"`
	Interview      InterviewConfig       `yaml:"interview"`
	Cascade        CascadeConfig         `yaml:"cascade"`
	CacheTTL       time.Duration         `yaml:"cache_ttl"` // per-user GET response cache
}

type DatabaseRuntimeConfig struct {
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// StorageConfig selects the blob driver and the bucket per asset kind.
type StorageConfig struct {
	Driver       string        `yaml:"driver"` // s3 | local
	AudioBucket  string        `yaml:"audio_bucket"`
	ImageBucket  string        `yaml:"image_bucket"`
	TTSBucket    string        `yaml:"tts_bucket"`
	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`
	S3           S3Config      `yaml:"s3"`
	Local        LocalConfig   `yaml:"local"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

type LocalConfig struct {
	Root    string `yaml:"root"`
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
}

// MongoConfig enables the Mongo embedding index when URI is set.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

func (m MongoConfig) Enabled() bool { return m.URI != "" }

type AIProvider struct {
	Type               string `yaml:"type"` // openai | openai-compatible | anthropic | openrouter
	APIKey             string `yaml:"api_key"`
	Endpoint           string `yaml:"endpoint"`
	ChatModel          string `yaml:"chat_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	SpeechModel        string `yaml:"speech_model"`
	EmbeddingModel     string `yaml:"embedding_model"`
	Voice              string `yaml:"voice"`
}

type InterviewConfig struct {
	PipelineURL       string        `yaml:"pipeline_url"`
	TTSPollAttempts   int           `yaml:"tts_poll_attempts"`
	TTSPollBase       time.Duration `yaml:"tts_poll_base"`
	TTSPollStep       time.Duration `yaml:"tts_poll_step"`
	TTSPollMax        time.Duration `yaml:"tts_poll_max"`
	MaxRecordingBytes int           `yaml:"max_recording_bytes"`
	// MaxTurns ends the interview after this many answered turns.
	MaxTurns      int `yaml:"max_turns"`
	SpeechWorkers int `yaml:"speech_workers"`
}

type CascadeConfig struct {
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type rawAppConfig struct {
	Port           int                `yaml:"port"`
	Env            string             `yaml:"env"`
	DSN            string             `yaml:"dsn"`
	RedisURL       string             `yaml:"redis_url"`
	Database       rawDatabaseConfig  `yaml:"database"`
	Redis          rawRedisConfig     `yaml:"redis"`
	AllowedOrigins []string           `yaml:"allowed_origins"`
	JWTSecret      string             `yaml:"jwt_secret"`
	Storage        rawStorageConfig   `yaml:"storage"`
	Mongo          MongoConfig        `yaml:"mongo"`
	AI             AIProvider         `yaml:"ai"`
	Interview      rawInterviewConfig `yaml:"interview"`
	Cascade        rawCascadeConfig   `yaml:"cascade"`
	CacheTTL       string             `yaml:"cache_ttl"`
}

type rawDatabaseConfig struct {
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	DBName    string            `yaml:"db_name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TLS      *bool  `yaml:"tls"`
}

type rawStorageConfig struct {
	Driver       string      `yaml:"driver"`
	AudioBucket  string      `yaml:"audio_bucket"`
	ImageBucket  string      `yaml:"image_bucket"`
	TTSBucket    string      `yaml:"tts_bucket"`
	SignedURLTTL string      `yaml:"signed_url_ttl"`
	S3           S3Config    `yaml:"s3"`
	Local        LocalConfig `yaml:"local"`
}

type rawInterviewConfig struct {
	PipelineURL       string `yaml:"pipeline_url"`
	TTSPollAttempts   int    `yaml:"tts_poll_attempts"`
	TTSPollBase       string `yaml:"tts_poll_base"`
	TTSPollStep       string `yaml:"tts_poll_step"`
	TTSPollMax        string `yaml:"tts_poll_max"`
	MaxRecordingBytes int    `yaml:"max_recording_bytes"`
	MaxTurns          int    `yaml:"max_turns"`
	SpeechWorkers     int    `yaml:"speech_workers"`
}

type rawCascadeConfig struct {
	LockTTL string `yaml:"lock_ttl"`
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document on top of the defaults.
func Parse(content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}

	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", c.Database.Port)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", c.Redis.Port)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", c.Redis.DB)
	}
	switch c.Storage.Driver {
	case StorageDriverS3:
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required for the s3 driver")
		}
	case StorageDriverLocal:
	default:
		return fmt.Errorf("invalid storage.driver %q, expected s3 or local", c.Storage.Driver)
	}
	if c.Interview.TTSPollAttempts < 1 {
		return fmt.Errorf("invalid interview.tts_poll_attempts %d, expected >= 1", c.Interview.TTSPollAttempts)
	}
	if c.Interview.TTSPollMax < c.Interview.TTSPollBase {
		return fmt.Errorf("interview.tts_poll_max must not be below interview.tts_poll_base")
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := defaultAppConfig()
	return &cfg
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		Storage: StorageConfig{
			Driver:       defaultStorageDriver,
			AudioBucket:  defaultAudioBucket,
			ImageBucket:  defaultImageBucket,
			TTSBucket:    defaultTTSBucket,
			SignedURLTTL: defaultSignedURLTTL,
			Local:        LocalConfig{Root: defaultLocalRoot},
		},
		Mongo: MongoConfig{
			Database:   defaultMongoDatabase,
			Collection: defaultMongoEmbedColl,
		},
		AI: AIProvider{
			Type:               defaultAIProviderType,
			ChatModel:          defaultChatModel,
			TranscriptionModel: defaultTranscriptionModel,
			SpeechModel:        defaultSpeechModel,
			EmbeddingModel:     defaultEmbeddingModel,
			Voice:              defaultVoice,
		},
		Interview: InterviewConfig{
			TTSPollAttempts:   defaultTTSPollAttempts,
			TTSPollBase:       defaultTTSPollBase,
			TTSPollStep:       defaultTTSPollStep,
			TTSPollMax:        defaultTTSPollMax,
			MaxRecordingBytes: defaultMaxRecordingBytes,
			MaxTurns:          defaultMaxTurns,
			SpeechWorkers:     defaultSpeechWorkers,
		},
		Cascade:  CascadeConfig{LockTTL: defaultDeleteLockTTL},
		CacheTTL: defaultCacheTTL,
	}
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return cfg
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw.Database)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw.Redis)
	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}
	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}

	storage, err := applyRawStorageConfig(cfg.Storage, raw.Storage)
	if err != nil {
		return err
	}
	cfg.Storage = storage
	cfg.Mongo = mergeMongoConfig(cfg.Mongo, raw.Mongo)
	cfg.AI = mergeAIProvider(cfg.AI, raw.AI)

	interview, err := applyRawInterviewConfig(cfg.Interview, raw.Interview)
	if err != nil {
		return err
	}
	cfg.Interview = interview
	if err := setDuration(&cfg.Cascade.LockTTL, raw.Cascade.LockTTL, "cascade.lock_ttl"); err != nil {
		return err
	}
	if err := setDuration(&cfg.CacheTTL, raw.CacheTTL, "cache_ttl"); err != nil {
		return err
	}

	cfg.DSN = cfg.Database.DSNValue()
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	cfg.RedisURL = cfg.Redis.URLValue()
	if v := normalizeRedisRawURL(raw.RedisURL); v != "" {
		cfg.RedisURL = v
	}
	cfg.Env = normalizeEnv(cfg.Env)
	return nil
}

func applyRawDatabaseConfig(cfg DatabaseRuntimeConfig, raw rawDatabaseConfig) DatabaseRuntimeConfig {
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.Host); v != "" {
		cfg.Host = v
	}
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.User); v != "" {
		cfg.User = v
	} else if v := strings.TrimSpace(raw.Username); v != "" {
		cfg.User = v
	}
	if raw.Password != "" {
		cfg.Password = raw.Password
	}
	if v := strings.TrimSpace(raw.Name); v != "" {
		cfg.Name = v
	} else if v := strings.TrimSpace(raw.DBName); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(raw.Charset); v != "" {
		cfg.Charset = v
	}
	if raw.ParseTime != nil {
		cfg.ParseTime = *raw.ParseTime
	}
	if v := strings.TrimSpace(raw.Loc); v != "" {
		cfg.Loc = v
	}
	if raw.Params != nil {
		cfg.Params = copyStringMap(raw.Params)
	}
	return cfg
}

func applyRawRedisConfig(cfg RedisRuntimeConfig, raw rawRedisConfig) RedisRuntimeConfig {
	if v := normalizeRedisRawURL(raw.URL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.Host); v != "" {
		cfg.Host = v
	}
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Username); v != "" {
		cfg.Username = v
	}
	if raw.Password != "" {
		cfg.Password = raw.Password
	}
	if raw.DB != nil {
		cfg.DB = *raw.DB
	}
	if raw.TLS != nil {
		cfg.TLS = *raw.TLS
	}
	return cfg
}

func applyRawStorageConfig(cfg StorageConfig, raw rawStorageConfig) (StorageConfig, error) {
	if v := strings.ToLower(strings.TrimSpace(raw.Driver)); v != "" {
		cfg.Driver = v
	}
	if v := strings.TrimSpace(raw.AudioBucket); v != "" {
		cfg.AudioBucket = v
	}
	if v := strings.TrimSpace(raw.ImageBucket); v != "" {
		cfg.ImageBucket = v
	}
	if v := strings.TrimSpace(raw.TTSBucket); v != "" {
		cfg.TTSBucket = v
	}
	if err := setDuration(&cfg.SignedURLTTL, raw.SignedURLTTL, "storage.signed_url_ttl"); err != nil {
		return cfg, err
	}
	cfg.S3 = S3Config{
		Endpoint:        strings.TrimSpace(raw.S3.Endpoint),
		Region:          strings.TrimSpace(raw.S3.Region),
		AccessKeyID:     strings.TrimSpace(raw.S3.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(raw.S3.SecretAccessKey),
		PathStyle:       raw.S3.PathStyle,
	}
	if v := strings.TrimSpace(raw.Local.Root); v != "" {
		cfg.Local.Root = v
	}
	cfg.Local.BaseURL = strings.TrimRight(strings.TrimSpace(raw.Local.BaseURL), "/")
	cfg.Local.Secret = strings.TrimSpace(raw.Local.Secret)
	return cfg, nil
}

func applyRawInterviewConfig(cfg InterviewConfig, raw rawInterviewConfig) (InterviewConfig, error) {
	cfg.PipelineURL = strings.TrimRight(strings.TrimSpace(raw.PipelineURL), "/")
	if raw.TTSPollAttempts != 0 {
		cfg.TTSPollAttempts = raw.TTSPollAttempts
	}
	if err := setDuration(&cfg.TTSPollBase, raw.TTSPollBase, "interview.tts_poll_base"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.TTSPollStep, raw.TTSPollStep, "interview.tts_poll_step"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.TTSPollMax, raw.TTSPollMax, "interview.tts_poll_max"); err != nil {
		return cfg, err
	}
	if raw.MaxRecordingBytes > 0 {
		cfg.MaxRecordingBytes = raw.MaxRecordingBytes
	}
	if raw.MaxTurns > 0 {
		cfg.MaxTurns = raw.MaxTurns
	}
	if raw.SpeechWorkers > 0 {
		cfg.SpeechWorkers = raw.SpeechWorkers
	}
	return cfg, nil
}

func setDuration(dst *time.Duration, raw, field string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fmt.Errorf("invalid %s %q", field, raw)
	}
	*dst = d
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}
