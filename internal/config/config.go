package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/viper"

	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
)

// ConfigFileEnv 指向可选的配置文件（yaml/json/toml），环境变量优先级高于文件。
const ConfigFileEnv = "ARENA_CONFIG"

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	AI        AIConfig
	Gemini    GeminiConfig
	Speech    SpeechConfig
	Voice     VoiceConfig
	Interview InterviewConfig
}

// Load 从环境变量（以及 ARENA_CONFIG 指定的文件）加载配置。
func Load() (*Config, error) {
	v, err := newSource()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(v)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig(v)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(v)
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig(v)
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig(v)
	if err != nil {
		return nil, err
	}

	interview, err := loadInterviewConfig(v)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Log:       logCfg,
		AI:        ai,
		Gemini:    loadGeminiConfig(v),
		Speech:    speech,
		Voice:     voice,
		Interview: interview,
	}, nil
}

func newSource() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return v, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// AllowedOrigins 为空时允许任意来源。
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(v *viper.Viper) (ServerConfig, error) {
	port := getString(v, "PORT", "8080")
	origins := splitList(getString(v, "CORS_ALLOWED_ORIGINS", ""))

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LogConfig 控制日志输出格式。
type LogConfig struct {
	JSON  bool
	Debug bool
}

func loadLogConfig(v *viper.Viper) (LogConfig, error) {
	jsonOut, err := parseBool(v, "LOG_JSON", false)
	if err != nil {
		return LogConfig{}, err
	}

	debug, err := parseBool(v, "LOG_DEBUG", false)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{JSON: jsonOut, Debug: debug}, nil
}

// AIConfig 描述主生成模型（Ark 或任意 OpenAI 兼容端点）的配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// Timeout 限制单次主模型调用，超时即视为失败并交给下一个提供方。
	Timeout time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(v *viper.Viper) (AIConfig, error) {
	temperature, err := parseOptionalFloat(v, "ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloat(v, "ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalInt(v, "ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDuration(v, "GENERATION_TIMEOUT", 25*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      getString(v, "ARK_API_KEY", ""),
		AccessKey:   getString(v, "ARK_ACCESS_KEY", ""),
		SecretKey:   getString(v, "ARK_SECRET_KEY", ""),
		Model:       getString(v, "ARK_MODEL", ""),
		BaseURL:     getString(v, "ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getString(v, "ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}, nil
}

// GeminiConfig 描述备用生成模型。缺少 APIKey 是合法配置，表示没有备用提供方。
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Enabled 表示是否配置了 Gemini 凭证。
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadGeminiConfig(v *viper.Viper) GeminiConfig {
	return GeminiConfig{
		APIKey: getString(v, "GEMINI_API_KEY", ""),
		Model:  getString(v, "GEMINI_MODEL", "gemini-2.5-flash"),
	}
}

// SpeechConfig 描述火山引擎语音服务（ASR + 备用 TTS）配置。
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	APIKey         string
	ConcurrentMode bool
	ASRLanguage    string
	TTSVoice       string
	TTSSpeed       float32
	TTSVolume      float32
	TTSLanguage    string
	Timeout        int
	Enabled        bool
}

// ClientConfig 转换为语音客户端使用的配置结构。
func (c SpeechConfig) ClientConfig() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		APIKey:         c.APIKey,
		ConcurrentMode: c.ConcurrentMode,
		ASRLanguage:    c.ASRLanguage,
		TTSVoice:       c.TTSVoice,
		TTSSpeed:       c.TTSSpeed,
		TTSVolume:      c.TTSVolume,
		TTSLanguage:    c.TTSLanguage,
		Timeout:        c.Timeout,
	}
}

func loadSpeechConfig(v *viper.Viper) (SpeechConfig, error) {
	timeout, err := parseOptionalInt(v, "SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat(v, "SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = float32(*speed)
	}

	volume, err := parseOptionalFloat(v, "SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = float32(*volume)
	}

	concurrent, err := parseBool(v, "SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := getString(v, "SPEECH_APP_ID", "")
	apiKey := getString(v, "SPEECH_API_KEY", "")
	accessToken := getString(v, "SPEECH_ACCESS_TOKEN", apiKey)

	return SpeechConfig{
		AppID:          appID,
		AccessToken:    accessToken,
		APIKey:         apiKey,
		ConcurrentMode: concurrent,
		ASRLanguage:    getString(v, "SPEECH_ASR_LANGUAGE", "en-US"),
		TTSVoice:       getString(v, "SPEECH_TTS_VOICE", "en_male_glen_emo_v2_mars_bigtts"),
		TTSSpeed:       ttsSpeed,
		TTSVolume:      ttsVolume,
		TTSLanguage:    getString(v, "SPEECH_TTS_LANGUAGE", "en-US"),
		Timeout:        timeoutSeconds,
		Enabled:        appID != "" && accessToken != "",
	}, nil
}

// VoiceConfig 描述 ElevenLabs 主语音合成配置与合成超时。
type VoiceConfig struct {
	ElevenLabsAPIKey string
	ElevenLabsModel  string
	OutputFormat     string
	WSBaseURL        string
	Stability        float64
	SimilarityBoost  float64
	Timeout          time.Duration
}

// Enabled 表示是否配置了 ElevenLabs 凭证。
func (c VoiceConfig) Enabled() bool {
	return c.ElevenLabsAPIKey != ""
}

func loadVoiceConfig(v *viper.Viper) (VoiceConfig, error) {
	timeout, err := parseDuration(v, "SYNTHESIS_TIMEOUT", 20*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}

	stability, err := parseOptionalFloat(v, "ELEVENLABS_STABILITY")
	if err != nil {
		return VoiceConfig{}, err
	}
	similarity, err := parseOptionalFloat(v, "ELEVENLABS_SIMILARITY_BOOST")
	if err != nil {
		return VoiceConfig{}, err
	}

	cfg := VoiceConfig{
		ElevenLabsAPIKey: getString(v, "ELEVENLABS_API_KEY", ""),
		ElevenLabsModel:  getString(v, "ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		OutputFormat:     getString(v, "ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),
		WSBaseURL:        getString(v, "ELEVENLABS_WS_URL", ""),
		Stability:        0.5,
		SimilarityBoost:  0.75,
		Timeout:          timeout,
	}
	if stability != nil {
		cfg.Stability = *stability
	}
	if similarity != nil {
		cfg.SimilarityBoost = *similarity
	}
	return cfg, nil
}

// InterviewConfig 描述面试流程相关的可调参数。
type InterviewConfig struct {
	OpeningDelay    time.Duration
	PreviewMaxChars int
	AnalysisTimeout time.Duration
}

func loadInterviewConfig(v *viper.Viper) (InterviewConfig, error) {
	delay, err := parseDuration(v, "INTERVIEW_OPENING_DELAY", 2*time.Second)
	if err != nil {
		return InterviewConfig{}, err
	}

	analysisTimeout, err := parseDuration(v, "ANALYSIS_TIMEOUT", 30*time.Second)
	if err != nil {
		return InterviewConfig{}, err
	}

	previewMax := 15000
	if override, err := parseOptionalInt(v, "INTERVIEW_PREVIEW_MAX_CHARS"); err != nil {
		return InterviewConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return InterviewConfig{}, fmt.Errorf("invalid INTERVIEW_PREVIEW_MAX_CHARS value %d: must be positive", *override)
		}
		previewMax = *override
	}

	return InterviewConfig{
		OpeningDelay:    delay,
		PreviewMaxChars: previewMax,
		AnalysisTimeout: analysisTimeout,
	}, nil
}

func getString(v *viper.Viper, key, defaultValue string) string {
	if value := strings.TrimSpace(v.GetString(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(v *viper.Viper, key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloat(v *viper.Viper, key string) (*float64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

func parseOptionalInt(v *viper.Viper, key string) (*int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &val, nil
}

// parseDuration 接受 Go duration 字符串（"2s"）或纯数字秒数。
func parseDuration(v *viper.Viper, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}
