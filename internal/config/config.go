package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g. FILESHARE_TRANSFER_CHUNK_SIZE
const EnvPrefix = "FILESHARE"

var (
	ErrInvalidWatermarks          = errors.New("low watermark must be greater than 0 and less than high watermark")
	ErrInvalidChunkSize           = errors.New("chunk size must be greater than 0")
	ErrInvalidFlushThreshold      = errors.New("flush threshold must be greater than 0")
	ErrInvalidInterval            = errors.New("poll, telemetry and handshake intervals must be greater than 0")
	ErrInvalidRetries             = errors.New("retry counts must not be negative")
	ErrInvalidThroughputWindow    = errors.New("throughput window must be greater than 0")
	ErrInvalidChannelLabel        = errors.New("data channel label must be set")
	ErrInvalidFirebaseConfig      = errors.New("Firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
)

// Config holds all application configuration
type Config struct {
	WebRTC   WebRTCConfig   `mapstructure:"webrtc"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Log      LogConfig      `mapstructure:"log"`
	History  HistoryConfig  `mapstructure:"history"`
}

// WebRTCConfig holds WebRTC-specific configuration
type WebRTCConfig struct {
	ICEServers   []string `mapstructure:"ice_servers"`
	ChannelLabel string   `mapstructure:"channel_label"`
	EventBuffer  int      `mapstructure:"event_buffer"`
}

// TransferConfig tunes the transfer engine
type TransferConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	HighWatermark     uint64        `mapstructure:"high_watermark"`
	LowWatermark      uint64        `mapstructure:"low_watermark"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	FlushThreshold    int           `mapstructure:"flush_threshold"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`
	ThroughputWindow  int           `mapstructure:"throughput_window"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	HandshakeRetries  int           `mapstructure:"handshake_retries"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	SendRetries       int           `mapstructure:"send_retries"`
	SendRetryDelay    time.Duration `mapstructure:"send_retry_delay"`
	MaxMemoryBytes    uint64        `mapstructure:"max_memory_bytes"` // 0 means unlimited
	CompressFallback  bool          `mapstructure:"compress_fallback"`
	VerifyChecksum    bool          `mapstructure:"verify_checksum"`
}

// FirebaseConfig holds Firebase client configuration
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DatabaseURL     string `mapstructure:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path"`

	// AnswerPollInterval and AnswerTimeout bound how long the sender waits for the receiver's answer
	AnswerPollInterval time.Duration `mapstructure:"answer_poll_interval"`
	AnswerTimeout      time.Duration `mapstructure:"answer_timeout"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// HistoryConfig controls the transfer history store
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // empty selects ~/.fileshare/history
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		WebRTC: WebRTCConfig{
			ICEServers:   []string{"stun:stun.l.google.com:19302"},
			ChannelLabel: "fileTransfer",
			EventBuffer:  1024,
		},
		Transfer: DefaultTransferConfig(),
		Firebase: FirebaseConfig{
			AnswerPollInterval: 2 * time.Second,
			AnswerTimeout:      5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// DefaultTransferConfig returns the engine tuning used when nothing is configured
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		ChunkSize:         64 * 1024,        // 64 KB chunks
		HighWatermark:     16 * 1024 * 1024, // 16 MB
		LowWatermark:      4 * 1024 * 1024,  // 4 MB
		PollInterval:      5 * time.Millisecond,
		FlushThreshold:    4 * 1024 * 1024, // 4 MB disk writes
		TelemetryInterval: 250 * time.Millisecond,
		ThroughputWindow:  5,
		HandshakeTimeout:  30 * time.Second,
		HandshakeRetries:  1,
		SettleDelay:       100 * time.Millisecond,
		SendRetries:       5,
		SendRetryDelay:    10 * time.Millisecond,
		MaxMemoryBytes:    512 * 1024 * 1024, // 512 MB
		CompressFallback:  false,
		VerifyChecksum:    true,
	}
}

// Bind prepares v for environment overrides and registers every default key
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// SetDefaults registers the default value of every key so that env overrides are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("webrtc.ice_servers", d.WebRTC.ICEServers)
	v.SetDefault("webrtc.channel_label", d.WebRTC.ChannelLabel)
	v.SetDefault("webrtc.event_buffer", d.WebRTC.EventBuffer)

	v.SetDefault("transfer.chunk_size", d.Transfer.ChunkSize)
	v.SetDefault("transfer.high_watermark", d.Transfer.HighWatermark)
	v.SetDefault("transfer.low_watermark", d.Transfer.LowWatermark)
	v.SetDefault("transfer.poll_interval", d.Transfer.PollInterval)
	v.SetDefault("transfer.flush_threshold", d.Transfer.FlushThreshold)
	v.SetDefault("transfer.telemetry_interval", d.Transfer.TelemetryInterval)
	v.SetDefault("transfer.throughput_window", d.Transfer.ThroughputWindow)
	v.SetDefault("transfer.handshake_timeout", d.Transfer.HandshakeTimeout)
	v.SetDefault("transfer.handshake_retries", d.Transfer.HandshakeRetries)
	v.SetDefault("transfer.settle_delay", d.Transfer.SettleDelay)
	v.SetDefault("transfer.send_retries", d.Transfer.SendRetries)
	v.SetDefault("transfer.send_retry_delay", d.Transfer.SendRetryDelay)
	v.SetDefault("transfer.max_memory_bytes", d.Transfer.MaxMemoryBytes)
	v.SetDefault("transfer.compress_fallback", d.Transfer.CompressFallback)
	v.SetDefault("transfer.verify_checksum", d.Transfer.VerifyChecksum)

	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.database_url", "")
	v.SetDefault("firebase.credentials_path", "")
	v.SetDefault("firebase.answer_poll_interval", d.Firebase.AnswerPollInterval)
	v.SetDefault("firebase.answer_timeout", d.Firebase.AnswerTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
}

// Load decodes the configuration held by v on top of the defaults
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// ICEServerList converts the configured URLs into pion ICE servers
func (c WebRTCConfig) ICEServerList() []webrtc.ICEServer {
	if len(c.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.ICEServers}}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.WebRTC.ChannelLabel == "" {
		return ErrInvalidChannelLabel
	}
	return c.Transfer.Validate()
}

// Validate ensures the transfer tuning is consistent
func (t TransferConfig) Validate() error {
	if t.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if t.LowWatermark == 0 || t.LowWatermark >= t.HighWatermark {
		return ErrInvalidWatermarks
	}
	if t.FlushThreshold <= 0 {
		return ErrInvalidFlushThreshold
	}
	if t.PollInterval <= 0 || t.TelemetryInterval <= 0 || t.HandshakeTimeout <= 0 {
		return ErrInvalidInterval
	}
	if t.ThroughputWindow <= 0 {
		return ErrInvalidThroughputWindow
	}
	if t.HandshakeRetries < 0 || t.SendRetries < 0 || t.SendRetryDelay < 0 || t.SettleDelay < 0 {
		return ErrInvalidRetries
	}
	return nil
}

// ValidateFirebase checks the credentials needed for signalling
func (c *Config) ValidateFirebase() error {
	if c.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseConfig
	}
	if c.Firebase.ProjectID == "" {
		return ErrInvalidFirebaseProjectID
	}
	if c.Firebase.DatabaseURL == "" {
		return ErrInvalidFirebaseDatabaseURL
	}
	if c.Firebase.AnswerPollInterval <= 0 || c.Firebase.AnswerTimeout <= 0 {
		return ErrInvalidInterval
	}
	return nil
}
