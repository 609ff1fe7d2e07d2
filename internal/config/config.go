package config

import (
	"fmt"
	"os"

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
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	AI struct {
		APIKey         string `yaml:"apiKey"` // kosong = heuristic classifier lokal
		Model          string `yaml:"model"`
		BaseURL        string `yaml:"baseURL"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
		RetryLimit     int    `yaml:"retryLimit"`
	} `yaml:"ai"`

	Catalog struct {
		AppID    string `yaml:"appId"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"catalog"`

	Patrol struct {
		PageSize           int `yaml:"pageSize"`
		BatchSize          int `yaml:"batchSize"`
		HighSpeedBatchSize int `yaml:"highSpeedBatchSize"`
		BatchWaitMS        int `yaml:"batchWaitMS"`
		PageWaitMS         int `yaml:"pageWaitMS"`
		FullScanLimit      int `yaml:"fullScanLimit"`
	} `yaml:"patrol"`

	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"` // tenant -> key
	} `yaml:"auth"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`
}

// Load baca file config.yaml lalu isi default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 30
	}
	if c.AI.RetryLimit == 0 {
		c.AI.RetryLimit = 8
	}
	if c.Patrol.PageSize == 0 {
		c.Patrol.PageSize = 30
	}
	if c.Patrol.BatchSize == 0 {
		c.Patrol.BatchSize = 3
	}
	if c.Patrol.HighSpeedBatchSize == 0 {
		c.Patrol.HighSpeedBatchSize = 15
	}
	if c.Patrol.BatchWaitMS == 0 {
		c.Patrol.BatchWaitMS = 500
	}
	if c.Patrol.PageWaitMS == 0 {
		c.Patrol.PageWaitMS = 1000
	}
	if c.Patrol.FullScanLimit == 0 {
		c.Patrol.FullScanLimit = 3000
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 60
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 1
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}
