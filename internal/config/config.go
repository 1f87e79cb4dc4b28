package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	Twilio     TwilioConfig
	ElevenLabs ElevenLabsConfig
	Quickbase  QuickbaseConfig
	Campaign   CampaignConfig
	Auth       AuthConfig
	Redis      RedisConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL of this process
	// (webhooks and the media-stream endpoint are derived from it).
	PublicURL string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type ElevenLabsConfig struct {
	AgentID string
	APIKey  string

	// AudioFormat is the encoding the agent is configured for.
	// "ulaw_8000" matches Twilio media streams and relays raw payloads;
	// "pcm_16000" enables per-frame transcoding.
	AudioFormat string

	// ReadyTimeout bounds the wait for the agent's initiation metadata
	// before the session gives up on the agent leg.
	ReadyTimeout time.Duration

	// CompanyName is injected into every call's dynamic variables.
	CompanyName string
}

type QuickbaseConfig struct {
	Realm       string
	UserToken   string
	LeadsTable  string
	StatusTable string
}

type CampaignConfig struct {
	// PaceInterval is the mandatory minimum gap between call placements.
	PaceInterval time.Duration
	// SkipDelay follows a locally-skipped contact (invalid phone).
	SkipDelay time.Duration
	// ErrorDelay follows a placement failure.
	ErrorDelay time.Duration

	MaxRetries int
	RetryDelay time.Duration

	// MaxConcurrentCalls caps simultaneous provider calls when Redis is
	// configured. 0 disables the cap.
	MaxConcurrentCalls int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// OperatorKey is the shared secret exchanged for a token pair at login.
	OperatorKey string
}

// RedisConfig is optional; an empty Host disables Redis entirely.
type RedisConfig struct {
	Host string
	Port int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_URL")), "/")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE"))

	c.ElevenLabs.AgentID = strings.TrimSpace(os.Getenv("ELEVENLABS_AGENT_ID"))
	c.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	c.ElevenLabs.AudioFormat = strings.TrimSpace(os.Getenv("ELEVENLABS_AUDIO_FORMAT"))
	c.ElevenLabs.ReadyTimeout = mustDuration("ELEVENLABS_READY_TIMEOUT")
	c.ElevenLabs.CompanyName = strings.TrimSpace(os.Getenv("COMPANY_NAME"))

	c.Quickbase.Realm = strings.TrimSpace(os.Getenv("QB_REALM"))
	c.Quickbase.UserToken = os.Getenv("QB_USER_TOKEN")
	c.Quickbase.LeadsTable = strings.TrimSpace(os.Getenv("QB_LEADS_TABLE"))
	c.Quickbase.StatusTable = strings.TrimSpace(os.Getenv("QB_STATUS_TABLE"))

	c.Campaign.PaceInterval = mustDuration("CAMPAIGN_PACE_INTERVAL")
	c.Campaign.SkipDelay = mustDuration("CAMPAIGN_SKIP_DELAY")
	c.Campaign.ErrorDelay = mustDuration("CAMPAIGN_ERROR_DELAY")
	c.Campaign.RetryDelay = mustDuration("CAMPAIGN_RETRY_DELAY")
	c.Campaign.MaxRetries = optInt("CAMPAIGN_MAX_RETRIES")
	c.Campaign.MaxConcurrentCalls = optInt("CAMPAIGN_MAX_CONCURRENT_CALLS")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")
	c.Auth.OperatorKey = os.Getenv("OPERATOR_KEY")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optInt("REDIS_PORT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicURL == "" {
		errs = append(errs, errors.New("PUBLIC_URL is required"))
	} else if !strings.HasPrefix(c.App.PublicURL, "http://") && !strings.HasPrefix(c.App.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_URL must be an http(s) URL, got %q", c.App.PublicURL))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE is required"))
	}

	if c.ElevenLabs.AgentID == "" {
		errs = append(errs, errors.New("ELEVENLABS_AGENT_ID is required"))
	}
	if c.ElevenLabs.AudioFormat == "" {
		// Agent and Twilio both speak companded 8kHz unless told otherwise.
		c.ElevenLabs.AudioFormat = "ulaw_8000"
	}
	if !isValidAudioFormat(c.ElevenLabs.AudioFormat) {
		errs = append(errs, fmt.Errorf("ELEVENLABS_AUDIO_FORMAT must be ulaw_8000 or pcm_16000, got %q", c.ElevenLabs.AudioFormat))
	}
	if c.ElevenLabs.ReadyTimeout <= 0 {
		c.ElevenLabs.ReadyTimeout = 10 * time.Second
	}
	if c.ElevenLabs.CompanyName == "" {
		c.ElevenLabs.CompanyName = "Expert Home Builders"
	}

	if c.Quickbase.Realm == "" {
		errs = append(errs, errors.New("QB_REALM is required"))
	}
	if c.Quickbase.UserToken == "" {
		errs = append(errs, errors.New("QB_USER_TOKEN is required"))
	}
	if c.Quickbase.LeadsTable == "" {
		c.Quickbase.LeadsTable = "bqn46epj5"
	}
	if c.Quickbase.StatusTable == "" {
		c.Quickbase.StatusTable = "bqn46epmb"
	}

	if c.Campaign.PaceInterval <= 0 {
		c.Campaign.PaceInterval = 30 * time.Second
	}
	if c.Campaign.SkipDelay <= 0 {
		c.Campaign.SkipDelay = time.Second
	}
	if c.Campaign.ErrorDelay <= 0 {
		c.Campaign.ErrorDelay = 5 * time.Second
	}
	if c.Campaign.MaxRetries <= 0 {
		c.Campaign.MaxRetries = 2
	}
	if c.Campaign.RetryDelay <= 0 {
		c.Campaign.RetryDelay = 5 * time.Minute
	}
	if c.Campaign.MaxConcurrentCalls > 0 && c.Redis.Host == "" {
		errs = append(errs, errors.New("CAMPAIGN_MAX_CONCURRENT_CALLS requires REDIS_HOST"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.OperatorKey == "" {
		errs = append(errs, errors.New("OPERATOR_KEY is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// StreamURL is the wss:// endpoint Twilio opens its media stream against.
func (c Config) StreamURL() string {
	u := c.App.PublicURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/media-stream"
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisEnabled reports whether the optional Redis features are configured.
func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidAudioFormat(v string) bool {
	switch v {
	case "ulaw_8000", "pcm_16000":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
