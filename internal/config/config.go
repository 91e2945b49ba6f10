package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/espadl/internal/progress"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "ESPADL_"

// Source names accepted in Config.Source.
const (
	SourceAPI  = "api"
	SourceFeed = "feed"
)

// ErrNoPassword is returned by PromptPassword when no password is
// configured and stdin is not a terminal.
var ErrNoPassword = errors.New("config: password required and stdin is not a terminal")

// Config defines configuration for the espadl CLI.
type Config struct {
	Host      string       `yaml:"host" validate:"omitempty,url"`
	Email     string       `yaml:"email" validate:"omitempty,email"`
	Username  string       `yaml:"username"`
	Password  string       `yaml:"password"`
	Order     string       `yaml:"order" validate:"required"`
	Directory string       `yaml:"directory" validate:"required"`
	Source    string       `yaml:"source" validate:"oneof=api feed"`
	Checksum  bool         `yaml:"checksum"`
	ChunkSize int64        `yaml:"chunk_size" validate:"gt=0,lte=1073741824"`
	Pacing    PacingConfig `yaml:"pacing"`
	HTTP      HTTPConfig   `yaml:"http"`
	Mirror    MirrorConfig `yaml:"mirror"`
}

// PacingConfig bounds the random delay between requests.
type PacingConfig struct {
	Min time.Duration `yaml:"min" validate:"gte=0"`
	Max time.Duration `yaml:"max" validate:"gtefield=Min"`
}

// HTTPConfig tunes the HTTP client.
type HTTPConfig struct {
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	UserAgent          string        `yaml:"user_agent"`
	RateLimit          float64       `yaml:"rate_limit" validate:"gte=0"`
	Retry              RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior for metadata and enumeration requests.
// Range requests are never retried.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts" validate:"gte=0,lte=10"`
	Backoff    time.Duration `yaml:"backoff" validate:"gte=0"`
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"gte=0"`
}

// MirrorConfig selects an optional bucket that receives completed assets.
type MirrorConfig struct {
	Bucket string `yaml:"bucket" validate:"omitempty,url"`
	Prefix string `yaml:"prefix"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Order:     "ALL",
		Directory: ".",
		Source:    SourceAPI,
		ChunkSize: 1 << 20,
		Pacing: PacingConfig{
			Min: 5 * time.Second,
			Max: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:     10 * time.Minute,
			IdleTimeout: time.Minute,
			UserAgent:   "espadl",
			RateLimit:   2,
			Retry: RetryConfig{
				Attempts:   3,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
// Numbers whose zero value is meaningful are pointers so an explicit 0 can
// be told apart from an absent key.
type yamlConfig struct {
	Host      string           `yaml:"host"`
	Email     string           `yaml:"email"`
	Username  string           `yaml:"username"`
	Password  string           `yaml:"password"`
	Order     string           `yaml:"order"`
	Directory string           `yaml:"directory"`
	Source    string           `yaml:"source"`
	Checksum  bool             `yaml:"checksum"`
	ChunkSize string           `yaml:"chunk_size"`
	Pacing    yamlPacingConfig `yaml:"pacing"`
	HTTP      yamlHTTPConfig   `yaml:"http"`
	Mirror    MirrorConfig     `yaml:"mirror"`
}

type yamlPacingConfig struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

type yamlHTTPConfig struct {
	Timeout            string          `yaml:"timeout"`
	IdleTimeout        string          `yaml:"idle_timeout"`
	InsecureSkipVerify bool            `yaml:"insecure_skip_verify"`
	UserAgent          string          `yaml:"user_agent"`
	RateLimit          *float64        `yaml:"rate_limit"`
	Retry              yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   *int   `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default().Merge(Config{
		Host:      yc.Host,
		Email:     yc.Email,
		Username:  yc.Username,
		Password:  yc.Password,
		Order:     yc.Order,
		Directory: yc.Directory,
		Source:    yc.Source,
		Checksum:  yc.Checksum,
		Mirror:    yc.Mirror,
		HTTP: HTTPConfig{
			InsecureSkipVerify: yc.HTTP.InsecureSkipVerify,
			UserAgent:          yc.HTTP.UserAgent,
		},
	})

	if yc.HTTP.RateLimit != nil {
		cfg.HTTP.RateLimit = *yc.HTTP.RateLimit
	}
	if yc.HTTP.Retry.Attempts != nil {
		cfg.HTTP.Retry.Attempts = *yc.HTTP.Retry.Attempts
	}

	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"pacing.min", yc.Pacing.Min, &cfg.Pacing.Min},
		{"pacing.max", yc.Pacing.Max, &cfg.Pacing.Max},
		{"http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout},
		{"http.idle_timeout", yc.HTTP.IdleTimeout, &cfg.HTTP.IdleTimeout},
		{"http.retry.backoff", yc.HTTP.Retry.Backoff, &cfg.HTTP.Retry.Backoff},
		{"http.retry.max_backoff", yc.HTTP.Retry.MaxBackoff, &cfg.HTTP.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. With no paths it reads .env
// from the working directory and ignores its absence.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(paths...)
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ESPADL_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"HOST":            &c.Host,
		"EMAIL":           &c.Email,
		"USERNAME":        &c.Username,
		"PASSWORD":        &c.Password,
		"ORDER":           &c.Order,
		"DIRECTORY":       &c.Directory,
		"SOURCE":          &c.Source,
		"HTTP_USER_AGENT": &c.HTTP.UserAgent,
		"MIRROR_BUCKET":   &c.Mirror.Bucket,
		"MIRROR_PREFIX":   &c.Mirror.Prefix,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"CHECKSUM":      &c.Checksum,
		"HTTP_INSECURE": &c.HTTP.InsecureSkipVerify,
	}
	for key, dst := range bools {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"PACING_MIN":        &c.Pacing.Min,
		"PACING_MAX":        &c.Pacing.Max,
		"HTTP_TIMEOUT":      &c.HTTP.Timeout,
		"HTTP_IDLE_TIMEOUT": &c.HTTP.IdleTimeout,
		"RETRY_BACKOFF":     &c.HTTP.Retry.Backoff,
		"RETRY_MAX_BACKOFF": &c.HTTP.Retry.MaxBackoff,
	}
	for key, dst := range durations {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv(EnvPrefix + "CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sCHUNK_SIZE: %w", EnvPrefix, err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv(EnvPrefix + "HTTP_RATE_LIMIT"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sHTTP_RATE_LIMIT: %w", EnvPrefix, err)
		}
		c.HTTP.RateLimit = r
	}
	if v := os.Getenv(EnvPrefix + "RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sRETRY_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.HTTP.Retry.Attempts = n
	}

	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored; layers that can set a field to zero
// assign it directly instead.
func (c Config) Merge(override Config) Config {
	mergeString(&c.Host, override.Host)
	mergeString(&c.Email, override.Email)
	mergeString(&c.Username, override.Username)
	mergeString(&c.Password, override.Password)
	mergeString(&c.Order, override.Order)
	mergeString(&c.Directory, override.Directory)
	mergeString(&c.Source, override.Source)
	mergeString(&c.HTTP.UserAgent, override.HTTP.UserAgent)
	mergeString(&c.Mirror.Bucket, override.Mirror.Bucket)
	mergeString(&c.Mirror.Prefix, override.Mirror.Prefix)

	if override.Checksum {
		c.Checksum = true
	}
	if override.HTTP.InsecureSkipVerify {
		c.HTTP.InsecureSkipVerify = true
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Pacing.Min != 0 {
		c.Pacing.Min = override.Pacing.Min
	}
	if override.Pacing.Max != 0 {
		c.Pacing.Max = override.Pacing.Max
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.IdleTimeout != 0 {
		c.HTTP.IdleTimeout = override.HTTP.IdleTimeout
	}
	if override.HTTP.RateLimit != 0 {
		c.HTTP.RateLimit = override.HTTP.RateLimit
	}
	if override.HTTP.Retry.Attempts != 0 {
		c.HTTP.Retry.Attempts = override.HTTP.Retry.Attempts
	}
	if override.HTTP.Retry.Backoff != 0 {
		c.HTTP.Retry.Backoff = override.HTTP.Retry.Backoff
	}
	if override.HTTP.Retry.MaxBackoff != 0 {
		c.HTTP.Retry.MaxBackoff = override.HTTP.Retry.MaxBackoff
	}
	return c
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	return check(validate.Struct(c))
}

// RequireCredentials checks the fields needed to talk to the order service.
// The password is not checked here; see PromptPassword.
func (c *Config) RequireCredentials() error {
	var fields FieldErrors
	for _, f := range []struct {
		name, value, tag string
	}{
		{"email", c.Email, "required,email"},
		{"username", c.Username, "required"},
	} {
		if err := check(validate.Var(f.value, f.tag)); err != nil {
			var fe FieldErrors
			if errors.As(err, &fe) {
				for _, e := range fe {
					fields = append(fields, FieldError{Field: f.name, Err: strings.TrimSpace(e.Err)})
				}
				continue
			}
			return err
		}
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}

// PromptPassword asks for the password on in when none is configured. Input
// is not echoed.
func (c *Config) PromptPassword(in *os.File, out io.Writer) error {
	if c.Password != "" {
		return nil
	}

	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return ErrNoPassword
	}

	fmt.Fprintf(out, "Password for %s: ", c.Username)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	c.Password = strings.TrimSpace(string(pw))
	if c.Password == "" {
		return ErrNoPassword
	}
	return nil
}

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("config: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// FieldError is a single failed constraint.
type FieldError struct {
	Field string
	Err   string
}

// FieldErrors collects every failed constraint of a Config.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Field + ": " + f.Err
	}
	return "config: " + strings.Join(parts, "; ")
}

func check(err error) error {
	if err == nil {
		return nil
	}

	var verrors validator.ValidationErrors
	if !errors.As(err, &verrors) {
		return err
	}

	fields := make(FieldErrors, 0, len(verrors))
	for _, verror := range verrors {
		field := verror.Namespace()
		// Drop the struct name.
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		fields = append(fields, FieldError{Field: field, Err: verror.Translate(translator)})
	}
	return fields
}
