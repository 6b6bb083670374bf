package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Rembg     RembgConfig     `mapstructure:"rembg"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Upload    UploadConfig    `mapstructure:"upload"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port  int    `mapstructure:"port"`
	Mode  string `mapstructure:"mode"`
	Share bool   `mapstructure:"share"`
}

type ModelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
	Device   string `mapstructure:"device"`
	// Timeout 单次推理请求超时，0 表示不限
	Timeout time.Duration `mapstructure:"timeout"`
}

type RembgConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	OutputDir    string `mapstructure:"output_dir"`
	MaxInputSize int    `mapstructure:"max_input_size"`
}

type UploadConfig struct {
	MaxSize int64 `mapstructure:"max_size"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RedisConfig Addr 为空时任务记录只保存在内存里
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ScheduleConfig struct {
	// HealthProbe cron 表达式，为空时不探测
	HealthProbe string `mapstructure:"health_probe"`
}

type LogConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 加载失败时返回默认配置
func New(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 7860)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.share", false)

	v.SetDefault("model.endpoint", "http://127.0.0.1:8000")
	v.SetDefault("model.path", "models/TripoSR")
	v.SetDefault("model.device", "auto")
	v.SetDefault("model.timeout", 0)

	v.SetDefault("rembg.endpoint", "http://127.0.0.1:7000")
	v.SetDefault("rembg.model", "u2net")
	v.SetDefault("rembg.timeout", 60*time.Second)

	v.SetDefault("pipeline.output_dir", "output")
	v.SetDefault("pipeline.max_input_size", 1024)

	v.SetDefault("upload.max_size", 20*1024*1024)

	v.SetDefault("rate_limit.rps", 2)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("schedule.health_probe", "@every 30s")

	v.SetDefault("log.dir", "logs")
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 7860,
			Mode: "debug",
		},
		Model: ModelConfig{
			Endpoint: "http://127.0.0.1:8000",
			Path:     "models/TripoSR",
			Device:   "auto",
		},
		Rembg: RembgConfig{
			Endpoint: "http://127.0.0.1:7000",
			Model:    "u2net",
			Timeout:  60 * time.Second,
		},
		Pipeline: PipelineConfig{
			OutputDir:    "output",
			MaxInputSize: 1024,
		},
		Upload: UploadConfig{
			MaxSize: 20 * 1024 * 1024,
		},
		RateLimit: RateLimitConfig{
			RPS:   2,
			Burst: 5,
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Schedule: ScheduleConfig{
			HealthProbe: "@every 30s",
		},
		Log: LogConfig{
			Dir: "logs",
		},
	}
}
