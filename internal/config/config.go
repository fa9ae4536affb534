package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverEdge     = "edge"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		AllowOrigins    []string      `mapstructure:"allow_origins"`
	} `mapstructure:"http"`
	// Repository 选择菜单仓库实现：edge（Supabase Edge Functions）或 postgres（直连同一套表）
	Repository struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"repository"`
	Edge struct {
		BaseURL       string        `mapstructure:"base_url"`
		FunctionsPath string        `mapstructure:"functions_path"`
		RestPath      string        `mapstructure:"rest_path"`
		AnonKey       string        `mapstructure:"anon_key"`
		Timeout       time.Duration `mapstructure:"timeout"`
	} `mapstructure:"edge"`
	Postgres struct {
		DSN         string `mapstructure:"dsn"`
		MaxOpen     int    `mapstructure:"max_open"`
		MaxIdle     int    `mapstructure:"max_idle"`
		AutoMigrate bool   `mapstructure:"auto_migrate"`
	} `mapstructure:"postgres"`
	Redis struct {
		Addr           string        `mapstructure:"addr"`
		Password       string        `mapstructure:"password"`
		DB             int           `mapstructure:"db"`
		DialTimeout    time.Duration `mapstructure:"dial_timeout"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		PingTimeout    time.Duration `mapstructure:"ping_timeout"`
		HeartbeatEvery time.Duration `mapstructure:"heartbeat_every"`
		DenylistPrefix string        `mapstructure:"denylist_prefix"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers         []string `mapstructure:"brokers"`
		PermissionTopic string   `mapstructure:"permission_topic"`
		GroupPrefix     string   `mapstructure:"group_prefix"`
	} `mapstructure:"kafka"`
	Etcd struct {
		Endpoints []string `mapstructure:"endpoints"`
		TTL       int      `mapstructure:"ttl"`
		Prefix    string   `mapstructure:"prefix"`
	} `mapstructure:"etcd"`
	JWT struct {
		Secret string `mapstructure:"secret"`
		Issuer string `mapstructure:"issuer"`
	} `mapstructure:"jwt"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	AppMeta struct {
		Name    string `mapstructure:"name"`
		Env     string `mapstructure:"env"`
		Version string `mapstructure:"version"`
	} `mapstructure:"app_meta"`
	OTel struct {
		Endpoint     string  `mapstructure:"endpoint"` // OTLP gRPC endpoint
		Insecure     bool    `mapstructure:"insecure"`
		SamplerRatio float64 `mapstructure:"sampler_ratio"`
		Enable       bool    `mapstructure:"enable"`
	} `mapstructure:"otel"`
	Permission struct {
		CacheTTL    time.Duration `mapstructure:"cache_ttl"`
		LoadTimeout time.Duration `mapstructure:"load_timeout"`
	} `mapstructure:"permission"`
	Editor struct {
		SessionTTL time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"editor"`
	Guard struct {
		NotFoundPath string        `mapstructure:"not_found_path"`
		WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	} `mapstructure:"guard"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allow_origins", []string{"*"})
	v.SetDefault("repository.driver", DriverEdge)
	v.SetDefault("edge.base_url", "")
	v.SetDefault("edge.functions_path", "/functions/v1")
	v.SetDefault("edge.rest_path", "/rest/v1")
	v.SetDefault("edge.anon_key", "")
	v.SetDefault("edge.timeout", 10*time.Second)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.auto_migrate", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", time.Second)
	v.SetDefault("redis.write_timeout", time.Second)
	v.SetDefault("redis.ping_timeout", time.Second)
	v.SetDefault("redis.heartbeat_every", 10*time.Second)
	v.SetDefault("redis.denylist_prefix", "gacha:denylist:")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.permission_topic", "admin.menu_permission.events")
	v.SetDefault("kafka.group_prefix", "gacha-admin")
	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.ttl", 10)
	v.SetDefault("etcd.prefix", "/gacha-admin/instances/")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("app_meta.name", "gacha-admin")
	v.SetDefault("app_meta.env", "dev")
	v.SetDefault("app_meta.version", "v1")
	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.sampler_ratio", 1.0)
	v.SetDefault("otel.insecure", true)
	v.SetDefault("permission.cache_ttl", 5*time.Minute)
	v.SetDefault("permission.load_timeout", 10*time.Second)
	v.SetDefault("editor.session_ttl", 30*time.Minute)
	v.SetDefault("guard.not_found_path", "/404")
	v.SetDefault("guard.wait_timeout", 3*time.Second)
}

// Load 读取 YAML 配置；path 为空时只使用默认值和环境变量（GACHA_EDGE_BASE_URL 等）
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GACHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate ===== 逻辑校验 =====
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr required")
	}
	switch c.Repository.Driver {
	case DriverEdge:
		if c.Edge.BaseURL == "" {
			return errors.New("edge.base_url required when repository.driver=edge")
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn required when repository.driver=postgres")
		}
	default:
		return fmt.Errorf("repository.driver must be %q or %q, got %q", DriverEdge, DriverPostgres, c.Repository.Driver)
	}
	if len(c.JWT.Secret) < 16 {
		return fmt.Errorf("jwt.secret too short (>=16)")
	}
	if c.Permission.CacheTTL <= 0 {
		return errors.New("permission.cache_ttl must >0")
	}
	if c.Guard.NotFoundPath == "" || c.Guard.NotFoundPath[0] != '/' {
		return errors.New("guard.not_found_path must be an absolute path")
	}
	if c.OTel.Enable {
		if c.OTel.Endpoint == "" {
			return errors.New("otel.endpoint required when otel.enable=true")
		}
		if c.OTel.SamplerRatio < 0 || c.OTel.SamplerRatio > 1 {
			return errors.New("otel.sampler_ratio must be in [0,1]")
		}
	}
	return nil
}
