package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint     string        `yaml:"endpoint"`
		AccessKey    string        `yaml:"accessKey"`
		SecretKey    string        `yaml:"secretKey"`
		BucketName   string        `yaml:"bucketName"`
		Region       string        `yaml:"region"`
		UseSSL       bool          `yaml:"useSSL"`
		PublicBucket bool          `yaml:"publicBucket"`
		PresignTTL   time.Duration `yaml:"presignTTL"`
	} `yaml:"minio"`

	Detector struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"detector"`

	Auth struct {
		JWTSecret string        `yaml:"jwtSecret"`
		TokenTTL  time.Duration `yaml:"tokenTTL"`
	} `yaml:"auth"`

	Upload struct {
		MaxSizeBytes int64 `yaml:"maxSizeBytes"`
	} `yaml:"upload"`

	Poller struct {
		BaseInterval time.Duration `yaml:"baseInterval"`
		MaxInterval  time.Duration `yaml:"maxInterval"`
		IdleAfter    time.Duration `yaml:"idleAfter"`
	} `yaml:"poller"`

	Retention struct {
		StuckAfter   time.Duration `yaml:"stuckAfter"`
		ErrorsMaxAge time.Duration `yaml:"errorsMaxAge"`
	} `yaml:"retention"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`
}

// Load reads the yaml config file and applies env overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// secrets may come from the environment so the yaml file can be
	// committed without credentials
	if v := os.Getenv("CASETRACE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CASETRACE_MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("CASETRACE_DETECTOR_API_KEY"); v != "" {
		cfg.Detector.APIKey = v
	}
	if v := os.Getenv("CASETRACE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	cfg.applyDefaults()

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwtSecret is required")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Upload.MaxSizeBytes == 0 {
		c.Upload.MaxSizeBytes = 25 << 20
	}
	if c.Minio.PresignTTL == 0 {
		c.Minio.PresignTTL = 15 * time.Minute
	}
	if c.Poller.BaseInterval == 0 {
		c.Poller.BaseInterval = 10 * time.Second
	}
	if c.Poller.MaxInterval == 0 {
		c.Poller.MaxInterval = 30 * time.Second
	}
	if c.Poller.IdleAfter == 0 {
		c.Poller.IdleAfter = 120 * time.Second
	}
	if c.Retention.StuckAfter == 0 {
		c.Retention.StuckAfter = 15 * time.Minute
	}
	if c.Retention.ErrorsMaxAge == 0 {
		c.Retention.ErrorsMaxAge = 30 * 24 * time.Hour
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 30
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 10
	}
}

// MySQLDSN builds the DSN for the mysql driver.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&multiStatements=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the DSN for lib/pq.
func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		ssl,
	)
}
