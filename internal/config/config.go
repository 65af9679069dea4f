package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var keyReplacer = strings.NewReplacer(".", "_")

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Model    ModelConfig    `mapstructure:"model"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the persistence backend: "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	// Addr is optional; an empty address disables the record cache.
	Addr string `mapstructure:"addr"`
}

type UploadsConfig struct {
	// Backend selects where uploaded images land: "disk" or "minio".
	Backend string      `mapstructure:"backend"`
	Dir     string      `mapstructure:"dir"`
	Minio   MinioConfig `mapstructure:"minio"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type ModelConfig struct {
	// Path points at the exported ONNX weights, loaded once at startup.
	Path string `mapstructure:"path"`
	// SharedLibrary is the path to libonnxruntime; empty uses the default
	// lookup of the ONNX runtime bindings.
	SharedLibrary string `mapstructure:"shared_library"`
	InputSize     int    `mapstructure:"input_size"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Audience  string `mapstructure:"audience"`
}

// Load reads configuration from an optional YAML file with RETINA_* environment
// variables overriding individual keys.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "retina.db")
	v.SetDefault("uploads.backend", "disk")
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.minio.region", "us-east-1")
	v.SetDefault("model.path", "models/retina_convnext.onnx")
	v.SetDefault("model.input_size", 224)
	v.SetDefault("auth.jwt_secret", "")

	v.SetEnvPrefix("RETINA")
	v.SetEnvKeyReplacer(keyReplacer)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
