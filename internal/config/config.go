// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	VectorIndex   VectorIndexConfig   `mapstructure:"vector_index"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Credits       CreditsConfig       `mapstructure:"credits"`
	History       HistoryConfig       `mapstructure:"history"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Timeouts      TimeoutsConfig      `mapstructure:"timeouts"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Bot           BotConfig           `mapstructure:"bot"`
	Messages      MessagesConfig      `mapstructure:"messages"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
// Driver 取值 mysql 或 sqlite，sqlite 时 DSN 为数据库文件路径。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时会话状态使用进程内存储。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	ReferralExpireDays     int    `mapstructure:"referral_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不启用房源同步。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// QdrantConfig 存储 Qdrant REST 接口的配置。
type QdrantConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，快照文件存放于此。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Provider 取值 openai（OpenAI 兼容接口）或 hash（本地确定性向量）。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 各环节使用的指令模板。
type LLMPromptConfig struct {
	Gate       string `mapstructure:"gate"`
	Refine     string `mapstructure:"refine"`
	Describe   string `mapstructure:"describe"`
	Digest     string `mapstructure:"digest"`
	Agent      string `mapstructure:"agent"`
	NoResult   string `mapstructure:"no_result"`
	HistoryCap int    `mapstructure:"history_cap"`
}

// VectorIndexConfig 选择向量索引后端。Backend 取值 elasticsearch、qdrant 或 memory。
type VectorIndexConfig struct {
	Backend     string `mapstructure:"backend"`
	Collection  string `mapstructure:"collection"`
	UpsertBatch int    `mapstructure:"upsert_batch"`
}

// RetrievalConfig 各个入口的默认 top-k。
type RetrievalConfig struct {
	ListingTopK int `mapstructure:"listing_top_k"`
	AgentTopK   int `mapstructure:"agent_top_k"`
	GenericTopK int `mapstructure:"generic_top_k"`
}

// CreditsConfig 积分与推荐奖励。
type CreditsConfig struct {
	Default            int  `mapstructure:"default"`
	ReferralBonus      int  `mapstructure:"referral_bonus"`
	AllowPlainReferral bool `mapstructure:"allow_plain_referral"`
}

// HistoryConfig 会话历史的上限（条目数）。
type HistoryConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// SynthesisConfig 逐条描述生成的并发度与图片上限。
type SynthesisConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxPhotos   int `mapstructure:"max_photos"`
}

// TimeoutsConfig 每一类外部调用的超时时间。
type TimeoutsConfig struct {
	Embedding time.Duration `mapstructure:"embedding"`
	Search    time.Duration `mapstructure:"search"`
	Upsert    time.Duration `mapstructure:"upsert"`
	LLM       time.Duration `mapstructure:"llm"`
	State     time.Duration `mapstructure:"state"`
	Bootstrap time.Duration `mapstructure:"bootstrap"`
}

// RetryConfig 只读调用（向量化、检索）的重试策略。
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// BotConfig 聊天平台侧的信息，用于生成推荐链接。
type BotConfig struct {
	Username string `mapstructure:"username"`
}

// MessagesConfig 面向终端用户的固定回复。
type MessagesConfig struct {
	OffDomain        string `mapstructure:"off_domain"`
	NoCredits        string `mapstructure:"no_credits"`
	NoResults        string `mapstructure:"no_results"`
	CreditsRemaining string `mapstructure:"credits_remaining"`
	Apology          string `mapstructure:"apology"`
	Welcome          string `mapstructure:"welcome"`
	SelfReferral     string `mapstructure:"self_referral"`
	MalformedInput   string `mapstructure:"malformed_input"`
	ResultsSent      string `mapstructure:"results_sent"`
	UnknownReferrer  string `mapstructure:"unknown_referrer"`
	PropertyAdded    string `mapstructure:"property_added"`
	ClientAdded      string `mapstructure:"client_added"`
}

// SetDefaults 注册所有配置项的默认值，配置文件中缺失的键会回退到这里。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "uybor_listings.db")
	v.SetDefault("jwt.access_token_expire_hours", 24*30)
	v.SetDefault("jwt.referral_expire_days", 365)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "listing-sync")
	v.SetDefault("kafka.group_id", "estate-smart-go-consumer")
	v.SetDefault("minio.bucket_name", "listing-snapshots")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.batch_size", 64)

	v.SetDefault("vector_index.backend", "elasticsearch")
	v.SetDefault("vector_index.collection", "uybozor_data")
	v.SetDefault("vector_index.upsert_batch", 1000)

	v.SetDefault("retrieval.listing_top_k", 5)
	v.SetDefault("retrieval.agent_top_k", 5)
	v.SetDefault("retrieval.generic_top_k", 15)

	v.SetDefault("credits.default", 200)
	v.SetDefault("credits.referral_bonus", 25)
	v.SetDefault("credits.allow_plain_referral", true)

	v.SetDefault("history.max_entries", 4)
	v.SetDefault("history.ttl", 7*24*time.Hour)

	v.SetDefault("synthesis.concurrency", 5)
	v.SetDefault("synthesis.max_photos", 10)

	v.SetDefault("timeouts.embedding", 15*time.Second)
	v.SetDefault("timeouts.search", 10*time.Second)
	v.SetDefault("timeouts.upsert", 60*time.Second)
	v.SetDefault("timeouts.llm", 60*time.Second)
	v.SetDefault("timeouts.state", 5*time.Second)
	v.SetDefault("timeouts.bootstrap", 30*time.Minute)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", 200*time.Millisecond)
	v.SetDefault("retry.max_backoff", 2*time.Second)

	v.SetDefault("bot.username", "beda_top_bot")

	v.SetDefault("llm.prompt.history_cap", 4)
	v.SetDefault("llm.prompt.gate", "Determine if the following query is related to real estate or property searching. Respond with only 'Yes' or 'No'.")
	v.SetDefault("llm.prompt.refine", "Foydalanuvchi so'rovini yaxshilang va aniqlashtiring. Suhbat tarixi va so'rovdan foydalaning. Faqat yaxshilangan so'rovni qaytaring.")
	v.SetDefault("llm.prompt.describe", "Quyidagi ma'lumotlardan foydalanib, uy-joy haqida qisqa va ma'lumotli tavsif yozing. YouTube, Instagram yoki Telegram havolalarini olib tashlang. Faqat berilgan ma'lumotlarga tayaning.")
	v.SetDefault("llm.prompt.digest", "Rewrite and improve the context and remove unnecessary things like YouTube, Instagram or Telegram links, then answer the user.")
	v.SetDefault("llm.prompt.agent", "You are Beda Top, an assistant for real estate agents. Reply with a JSON object {\"reply\": string, \"action\": one of none, prepare_document, property_search, add_property, add_client}.")

	v.SetDefault("messages.off_domain", "Kechirasiz, men faqat ko'chmas mulk va uy-joy haqidagi so'rovlarga javob bera olaman. Iltimos, ko'chmas mulk bilan bog'liq savol bering.")
	v.SetDefault("messages.no_credits", "Sizda kreditlar tugadi. Ko'proq kredit olish uchun do'stingizni taklif qiling!")
	v.SetDefault("messages.no_results", "Kechirasiz, so'rovingizga mos uy-joylar topilmadi.")
	v.SetDefault("messages.credits_remaining", "Sizda %d ta kredit qoldi.")
	v.SetDefault("messages.apology", "Kechirasiz, xatolik yuz berdi. Birozdan so'ng qayta urinib ko'ring.")
	v.SetDefault("messages.welcome", "Xush kelibsiz! Sizda %d ta kredit bor. O'zbekistondagi kvartiralar haqida so'rovingizni yuboring.\n\nKo'proq kredit olish uchun ushbu havolani ulashing: %s")
	v.SetDefault("messages.self_referral", "O'zingizni taklif qila olmaysiz!")
	v.SetDefault("messages.unknown_referrer", "Taklif havolasi yaroqsiz.")
	v.SetDefault("messages.malformed_input", "Ma'lumotlarni o'qib bo'lmadi. JSON formatini tekshiring.")
	v.SetDefault("messages.results_sent", "Natijalar yuborildi")
	v.SetDefault("messages.property_added", "Property added successfully! Property ID: %d")
	v.SetDefault("messages.client_added", "Client added successfully! Client ID: %d")

	// 没有默认值的键 AutomaticEnv 无法在 Unmarshal 时识别，这里显式登记
	for _, key := range []string{"jwt.secret", "llm.api_key", "llm.base_url", "llm.model", "embedding.api_key", "embedding.base_url",
		"qdrant.url", "qdrant.api_key", "elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
		"kafka.brokers", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key",
		"database.redis.addr", "database.redis.password", "log.output_path"} {
		v.SetDefault(key, "")
	}
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量会覆盖文件中的同名键，例如 LLM_API_KEY 覆盖 llm.api_key。
func Init(configPath string) {
	v := viper.GetViper()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// Watch 监听配置文件变化，只把日志级别这类可以安全热更新的值交给回调。
func Watch(onLogLevel func(level string)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onLogLevel(viper.GetString("log.level"))
	})
	viper.WatchConfig()
}
