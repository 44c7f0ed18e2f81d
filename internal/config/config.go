package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Bot      BotConfig      `mapstructure:"bot"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// BotConfig 两个机器人前端各自的接入密钥
// 密钥属于敏感信息，只从环境变量读取（MAIN_BOT_TOKEN / ADMIN_BOT_TOKEN）
type BotConfig struct {
	MainToken  string `mapstructure:"main_token"`
	AdminToken string `mapstructure:"admin_token"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	RedemptionResult string `mapstructure:"redemption_result"`
}

type BusinessConfig struct {
	SessionTTLMinutes int `mapstructure:"session_ttl_minutes"` // 多步对话中间态的过期时间
	ClaimMaxAttempts  int `mapstructure:"claim_max_attempts"`  // 兑换时选卡-核销的最大重试次数
	MaxRetryCount     int `mapstructure:"max_retry_count"`     // outbox 消息的最大投递重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件，环境变量优先于文件内容
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	_ = viper.BindEnv("bot.main_token", "MAIN_BOT_TOKEN")
	_ = viper.BindEnv("bot.admin_token", "ADMIN_BOT_TOKEN")
	_ = viper.BindEnv("mysql.host", "MYSQL_HOST")
	_ = viper.BindEnv("mysql.password", "MYSQL_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

// MustMainBotToken 缺少商城机器人密钥时直接终止进程
func (c *Config) MustMainBotToken() string {
	if c.Bot.MainToken == "" {
		log.Fatal("MAIN_BOT_TOKEN 未配置，无法启动商城机器人")
	}
	return c.Bot.MainToken
}

// MustAdminBotToken 缺少管理机器人密钥时直接终止进程
func (c *Config) MustAdminBotToken() string {
	if c.Bot.AdminToken == "" {
		log.Fatal("ADMIN_BOT_TOKEN 未配置，无法启动管理机器人")
	}
	return c.Bot.AdminToken
}
