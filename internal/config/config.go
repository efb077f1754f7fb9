package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CLOUDBRIDGE"

var (
	ErrInvalidPort          = errors.New("server port must be set")
	ErrInvalidStorageDir    = errors.New("storage directory must be set")
	ErrInvalidEventBuffer   = errors.New("event buffer must be greater than 0")
	ErrInvalidResultTimeout = errors.New("event result timeout must be greater than 0")
	ErrInvalidRateLimit     = errors.New("rate limit rps and burst must be greater than 0")
	ErrInvalidChunkSize     = errors.New("dropbox chunk size must be between 4 MiB and 150 MiB")
	ErrInvalidPageSize      = errors.New("page sizes must be greater than 0")
)

// Config holds all application configuration
type Config struct {
	ServerHost  string
	ServerPort  string
	StorageDir  string
	Provider    string
	AccessToken string
	ClientID    string

	EventBuffer        int
	EventResultTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	DropboxChunkSize int64
	OneDriveBaseURL  string
	OneDrivePageSize int
	OneDriveRPS      float64
	S3PageSize       int

	LogLevel string
	LogPath  string
}

// SetDefaults registers defaults and environment lookup on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8080")
	v.SetDefault("storage.directory", "./data")
	v.SetDefault("provider", "dropbox")
	v.SetDefault("access_token", "")
	v.SetDefault("client_id", "")
	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.result_timeout", 30*time.Second)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("dropbox.chunk_size", 8*1024*1024)
	v.SetDefault("onedrive.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("onedrive.page_size", 200)
	v.SetDefault("onedrive.rps", 0.0)
	v.SetDefault("s3.page_size", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v. Call SetDefaults first.
func Load(v *viper.Viper) *Config {
	return &Config{
		ServerHost:         v.GetString("server.host"),
		ServerPort:         v.GetString("server.port"),
		StorageDir:         v.GetString("storage.directory"),
		Provider:           v.GetString("provider"),
		AccessToken:        v.GetString("access_token"),
		ClientID:           v.GetString("client_id"),
		EventBuffer:        v.GetInt("events.buffer"),
		EventResultTimeout: v.GetDuration("events.result_timeout"),
		RateLimitRPS:       v.GetFloat64("ratelimit.rps"),
		RateLimitBurst:     v.GetInt("ratelimit.burst"),
		DropboxChunkSize:   v.GetInt64("dropbox.chunk_size"),
		OneDriveBaseURL:    v.GetString("onedrive.base_url"),
		OneDrivePageSize:   v.GetInt("onedrive.page_size"),
		OneDriveRPS:        v.GetFloat64("onedrive.rps"),
		S3PageSize:         v.GetInt("s3.page_size"),
		LogLevel:           v.GetString("log.level"),
		LogPath:            v.GetString("log.path"),
	}
}

// Addr is the host:port the HTTP channel listens on.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return ErrInvalidPort
	}
	if c.StorageDir == "" {
		return ErrInvalidStorageDir
	}
	if c.EventBuffer <= 0 {
		return ErrInvalidEventBuffer
	}
	if c.EventResultTimeout <= 0 {
		return ErrInvalidResultTimeout
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return ErrInvalidRateLimit
	}
	if c.DropboxChunkSize < 4*1024*1024 || c.DropboxChunkSize > 150*1024*1024 {
		return ErrInvalidChunkSize
	}
	if c.OneDrivePageSize <= 0 || c.S3PageSize <= 0 {
		return ErrInvalidPageSize
	}
	return nil
}
