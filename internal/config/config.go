// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Supported decision-maker providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Supported browser drivers.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Target     TargetConfig     `mapstructure:"target" yaml:"target"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Compaction CompactionConfig `mapstructure:"compaction" yaml:"compaction"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts"`
	Monitor    MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser the agent drives.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver" yaml:"driver"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	InstallBrowsers   bool          `mapstructure:"install_browsers" yaml:"install_browsers"`
}

// LLMConfig configures the decision-maker backend.
type LLMConfig struct {
	Provider           string        `mapstructure:"provider" yaml:"provider"`
	Model              string        `mapstructure:"model" yaml:"model"`
	APIKey             string        `mapstructure:"api_key" yaml:"-"`
	Endpoint           string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout         time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature        float32       `mapstructure:"temperature" yaml:"temperature"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval" yaml:"min_request_interval"`
}

// TargetConfig describes the application under test.
type TargetConfig struct {
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	LoginProfile     string `mapstructure:"login_profile" yaml:"login_profile"`
	ProfilesFile     string `mapstructure:"profiles_file" yaml:"profiles_file"`
	InstructionsFile string `mapstructure:"instructions_file" yaml:"instructions_file"`
}

// AgentConfig bounds the decision loop for each phase.
type AgentConfig struct {
	AuthTurnLimit         int `mapstructure:"auth_turn_limit" yaml:"auth_turn_limit"`
	ConversationTurnLimit int `mapstructure:"conversation_turn_limit" yaml:"conversation_turn_limit"`
	MinRounds             int `mapstructure:"min_rounds" yaml:"min_rounds"`
	MaxRounds             int `mapstructure:"max_rounds" yaml:"max_rounds"`
	// MaxSleep caps the sleep and wait tools.
	MaxSleep time.Duration `mapstructure:"max_sleep" yaml:"max_sleep"`
}

// CompactionConfig controls how history is bounded before each model request.
type CompactionConfig struct {
	Tokenizer             string `mapstructure:"tokenizer" yaml:"tokenizer"`
	Encoding              string `mapstructure:"encoding" yaml:"encoding"`
	SnapshotHead          int    `mapstructure:"snapshot_head" yaml:"snapshot_head"`
	SnapshotTail          int    `mapstructure:"snapshot_tail" yaml:"snapshot_tail"`
	SnapshotMinLength     int    `mapstructure:"snapshot_min_length" yaml:"snapshot_min_length"`
	AuthMaxTokens         int    `mapstructure:"auth_max_tokens" yaml:"auth_max_tokens"`
	ConversationMaxTokens int    `mapstructure:"conversation_max_tokens" yaml:"conversation_max_tokens"`
}

// ArtifactsConfig locates per-run artifacts and the monitoring queue.
type ArtifactsConfig struct {
	Root        string `mapstructure:"root" yaml:"root"`
	QueueDir    string `mapstructure:"queue_dir" yaml:"queue_dir"`
	Screenshots bool   `mapstructure:"screenshots" yaml:"screenshots"`
}

// MonitorConfig configures the sweeper and its AWS delivery adapters.
type MonitorConfig struct {
	S3Bucket          string `mapstructure:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix          string `mapstructure:"s3_prefix" yaml:"s3_prefix"`
	SNSTopicARN       string `mapstructure:"sns_topic_arn" yaml:"sns_topic_arn"`
	AWSRegion         string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile        string `mapstructure:"aws_profile" yaml:"aws_profile"`
	NoDelete          bool   `mapstructure:"no_delete" yaml:"no_delete"`
	CompressTraces    bool   `mapstructure:"compress_traces" yaml:"compress_traces"`
	UploadConcurrency int    `mapstructure:"upload_concurrency" yaml:"upload_concurrency"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "canary-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 1200)
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.install_browsers", false)

	// -- LLM --
	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.min_request_interval", "2s")

	// -- Target --
	v.SetDefault("target.base_url", "https://chat.parallellm.com")
	v.SetDefault("target.login_profile", "default")
	v.SetDefault("target.profiles_file", "config/secret/logins.yaml.env")
	v.SetDefault("target.instructions_file", "config/state.yaml")

	// -- Agent --
	v.SetDefault("agent.auth_turn_limit", 25)
	v.SetDefault("agent.conversation_turn_limit", 100)
	v.SetDefault("agent.min_rounds", 1)
	v.SetDefault("agent.max_rounds", 2)
	v.SetDefault("agent.max_sleep", "30s")

	// -- Compaction --
	v.SetDefault("compaction.tokenizer", "tiktoken")
	v.SetDefault("compaction.encoding", "cl100k_base")
	v.SetDefault("compaction.snapshot_head", 100)
	v.SetDefault("compaction.snapshot_tail", 100)
	v.SetDefault("compaction.snapshot_min_length", 300)
	v.SetDefault("compaction.auth_max_tokens", 60000)
	v.SetDefault("compaction.conversation_max_tokens", 90000)

	// -- Artifacts --
	v.SetDefault("artifacts.root", "artefacts")
	v.SetDefault("artifacts.queue_dir", "artefacts/error")
	v.SetDefault("artifacts.screenshots", true)

	// -- Monitor --
	v.SetDefault("monitor.s3_prefix", "qa-monitoring")
	v.SetDefault("monitor.aws_region", "eu-west-1")
	v.SetDefault("monitor.no_delete", false)
	v.SetDefault("monitor.compress_traces", false)
	v.SetDefault("monitor.upload_concurrency", 4)
}

// BindLegacyEnv maps the environment variable names used by the earlier
// scripts onto their configuration keys. The CANARY_ prefixed names still win
// because they are listed first.
func BindLegacyEnv(v *viper.Viper) {
	bindings := map[string][]string{
		"llm.api_key":             {"CANARY_LLM_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"},
		"llm.model":               {"CANARY_LLM_MODEL", "OPENAI_MODEL"},
		"logger.level":            {"CANARY_LOGGER_LEVEL", "LOG_LEVEL"},
		"target.login_profile":    {"CANARY_TARGET_LOGIN_PROFILE", "LOGIN_PROFILE"},
		"artifacts.queue_dir":     {"CANARY_ARTIFACTS_QUEUE_DIR", "ERROR_DIR"},
		"monitor.s3_bucket":       {"CANARY_MONITOR_S3_BUCKET", "S3_BUCKET"},
		"monitor.s3_prefix":       {"CANARY_MONITOR_S3_PREFIX", "S3_PREFIX"},
		"monitor.sns_topic_arn":   {"CANARY_MONITOR_SNS_TOPIC_ARN", "SNS_TOPIC_ARN"},
		"monitor.aws_region":      {"CANARY_MONITOR_AWS_REGION", "AWS_REGION"},
		"monitor.aws_profile":     {"CANARY_MONITOR_AWS_PROFILE", "AWS_PROFILE"},
		"monitor.no_delete":       {"CANARY_MONITOR_NO_DELETE", "NO_DELETE"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}

// NewConfigFromViper creates a validated configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.Target.ProfilesFile,
		&c.Target.InstructionsFile,
		&c.Artifacts.Root,
		&c.Artifacts.QueueDir,
		&c.Logger.LogFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Browser.Driver {
	case DriverChromedp, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be one of %q or %q, got %q", DriverChromedp, DriverPlaywright, c.Browser.Driver)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be one of %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.LLM.Provider)
	}
	if c.Target.BaseURL == "" {
		return fmt.Errorf("target.base_url is a required configuration field")
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.Compaction.Validate(); err != nil {
		return fmt.Errorf("compaction configuration invalid: %w", err)
	}
	if c.Artifacts.Root == "" || c.Artifacts.QueueDir == "" {
		return fmt.Errorf("artifacts.root and artifacts.queue_dir are required")
	}
	if c.Monitor.UploadConcurrency <= 0 {
		return fmt.Errorf("monitor.upload_concurrency must be a positive integer")
	}
	return nil
}

// Validate checks the turn limits and the round range.
func (a *AgentConfig) Validate() error {
	if a.AuthTurnLimit <= 0 || a.ConversationTurnLimit <= 0 {
		return fmt.Errorf("turn limits must be positive integers")
	}
	if a.MinRounds <= 0 {
		return fmt.Errorf("min_rounds must be at least 1")
	}
	if a.MaxRounds < a.MinRounds {
		return fmt.Errorf("max_rounds (%d) must not be below min_rounds (%d)", a.MaxRounds, a.MinRounds)
	}
	return nil
}

// Validate checks the compaction bounds.
func (c *CompactionConfig) Validate() error {
	if c.SnapshotHead < 0 || c.SnapshotTail < 0 {
		return fmt.Errorf("snapshot_head and snapshot_tail must not be negative")
	}
	if c.SnapshotMinLength < c.SnapshotHead+c.SnapshotTail {
		return fmt.Errorf("snapshot_min_length must be at least snapshot_head + snapshot_tail")
	}
	if c.AuthMaxTokens <= 0 || c.ConversationMaxTokens <= 0 {
		return fmt.Errorf("max token budgets must be positive integers")
	}
	return nil
}
