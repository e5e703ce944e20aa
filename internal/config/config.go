package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Scheduler SchedulerConfig
	Probes    ProbesConfig
	Alerts    AlertsConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

type SchedulerConfig struct {
	TickInterval   time.Duration
	ClaimBatchSize int
	WorkersPerPool int
	LeaseWindow    time.Duration
	JitterPercent  int
	DNSResolver    string
}

type ProbesConfig struct {
	LeaseWindow     time.Duration
	HeartbeatWindow time.Duration
	SweepInterval   time.Duration
}

type AlertsConfig struct {
	EscalationInterval time.Duration
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("PULSEGRID")
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("auth.tokenexpiry", "24h")
	viper.SetDefault("scheduler.tickinterval", "5s")
	viper.SetDefault("scheduler.claimbatchsize", 200)
	viper.SetDefault("scheduler.workersperpool", 4)
	viper.SetDefault("scheduler.leasewindow", "60s")
	viper.SetDefault("scheduler.jitterpercent", 10)
	viper.SetDefault("scheduler.dnsresolver", "8.8.8.8:53")
	viper.SetDefault("probes.leasewindow", "90s")
	viper.SetDefault("probes.heartbeatwindow", "120s")
	viper.SetDefault("probes.sweepinterval", "30s")
	viper.SetDefault("alerts.escalationinterval", "30s")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	return &cfg, nil
}
