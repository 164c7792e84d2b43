// Package config 服务配置：环境变量 + 可选的 YAML 管线文件
package config

import (
	"fmt"
	"os"
	"strconv"

	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/module/builtin"
	"wisefido-actigraphy/internal/pipeline"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// ExportConfig 结果导出配置
type ExportConfig struct {
	Postgres     bool
	Redis        bool
	ResultStream string // Redis Streams 名称
	MQTT         bool
	TopicPrefix  string
	ExcelPath    string // 非空时写入 xlsx
	ReportURL    string // 非空时上报运行摘要
	MetricsFile  string // 非空时写入 Prometheus textfile
}

// Config 服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Export   ExportConfig

	Pipeline     pipeline.Options
	Modules      []module.Definition
	PipelineFile string

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "actigraphy")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-actigraphy")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Export.Postgres = getEnvBool("EXPORT_POSTGRES", false)
	cfg.Export.Redis = getEnvBool("EXPORT_REDIS", false)
	cfg.Export.ResultStream = getEnv("RESULT_STREAM", "actigraphy:metrics:stream")
	cfg.Export.MQTT = getEnvBool("EXPORT_MQTT", false)
	cfg.Export.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "actigraphy")
	cfg.Export.ExcelPath = getEnv("EXPORT_EXCEL", "")
	cfg.Export.ReportURL = getEnv("REPORT_URL", "")
	cfg.Export.MetricsFile = getEnv("METRICS_TEXTFILE", "")

	cfg.Pipeline = pipeline.Options{
		WindowRule:            getEnv("WINDOW_RULE", "daily"),
		CompletenessThreshold: getEnvFloat("COMPLETENESS_THRESHOLD", 0.9),
		GapToleranceFactor:    getEnvFloat("GAP_TOLERANCE_FACTOR", 1.5),
		PrimaryStream:         getEnv("PRIMARY_STREAM", "accel"),
		ResampleRate:          getEnvFloat("RESAMPLE_RATE", 0),
		Workers:               getEnvInt("PIPELINE_WORKERS", 4),
		StrictDependencies:    getEnvBool("STRICT_DEPENDENCIES", false),
	}
	cfg.Modules = builtin.DefaultPipeline()

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if path := getEnv("PIPELINE_FILE", ""); path != "" {
		if err := cfg.ApplyPipelineFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ApplyPipelineFile 读取管线文件并覆盖其中出现的设置
func (c *Config) ApplyPipelineFile(path string) error {
	f, err := LoadPipelineFile(path)
	if err != nil {
		return err
	}
	f.Apply(&c.Pipeline)
	if len(f.Modules) > 0 {
		c.Modules = f.Modules
	}
	c.PipelineFile = path
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
