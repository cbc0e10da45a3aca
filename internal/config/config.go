package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Bundle modes.
const (
	BundleModeRun     = "run"
	BundleModePatient = "patient"
	BundleModeNone    = "none"
)

// Field policies for clinical columns.
const (
	FieldPolicyStrict  = "strict"
	FieldPolicyLenient = "lenient"
)

// FHIRVersionDSTU2 is the only payload schema the renderer produces.
const FHIRVersionDSTU2 = "dstu2"

type Config struct {
	Env           string        `mapstructure:"ENV"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	InputCSV      string        `mapstructure:"INPUT_CSV"`
	ConditionMap  string        `mapstructure:"CONDITION_MAP"`
	ProcedureMap  string        `mapstructure:"PROCEDURE_MAP"`
	MedicationMap string        `mapstructure:"MEDICATION_MAP"`
	BundleMode    string        `mapstructure:"BUNDLE_MODE"`
	FieldPolicy   string        `mapstructure:"FIELD_POLICY"`
	FHIRVersion   string        `mapstructure:"FHIR_VERSION"`
	FHIRBaseURL   string        `mapstructure:"FHIR_BASE_URL"`
	IDPrefix      string        `mapstructure:"ID_PREFIX"`
	HTTPTimeout   time.Duration `mapstructure:"HTTP_TIMEOUT"`
	AuthSecret    string        `mapstructure:"FHIR_AUTH_SECRET"`
	AuthIssuer    string        `mapstructure:"FHIR_AUTH_ISSUER"`
	ReceiveAddr   string        `mapstructure:"RECEIVE_ADDR"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"input":          "INPUT_CSV",
	"condition-map":  "CONDITION_MAP",
	"procedure-map":  "PROCEDURE_MAP",
	"medication-map": "MEDICATION_MAP",
	"bundle-mode":    "BUNDLE_MODE",
	"field-policy":   "FIELD_POLICY",
	"id-prefix":      "ID_PREFIX",
	"timeout":        "HTTP_TIMEOUT",
	"addr":           "RECEIVE_ADDR",
	"log-level":      "LOG_LEVEL",
	"fhir-version":   "FHIR_VERSION",
}

// Load reads configuration from defaults, an optional .env file, the
// environment and, when flags is non-nil, any flags that were set explicitly.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("INPUT_CSV", "import-hca.csv")
	v.SetDefault("CONDITION_MAP", "map-condition-hca.json")
	v.SetDefault("PROCEDURE_MAP", "map-procedure-hca.json")
	v.SetDefault("MEDICATION_MAP", "map-medication-hca.json")
	v.SetDefault("BUNDLE_MODE", BundleModeRun)
	v.SetDefault("FIELD_POLICY", FieldPolicyStrict)
	v.SetDefault("FHIR_VERSION", FHIRVersionDSTU2)
	v.SetDefault("ID_PREFIX", "hca")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("FHIR_AUTH_ISSUER", "hca-fhir")
	v.SetDefault("RECEIVE_ADDR", ":8080")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("INPUT_CSV")
	v.BindEnv("CONDITION_MAP")
	v.BindEnv("PROCEDURE_MAP")
	v.BindEnv("MEDICATION_MAP")
	v.BindEnv("BUNDLE_MODE")
	v.BindEnv("FIELD_POLICY")
	v.BindEnv("FHIR_VERSION")
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("ID_PREFIX")
	v.BindEnv("HTTP_TIMEOUT")
	v.BindEnv("FHIR_AUTH_SECRET")
	v.BindEnv("FHIR_AUTH_ISSUER")
	v.BindEnv("RECEIVE_ADDR")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.BundleMode = strings.ToLower(strings.TrimSpace(cfg.BundleMode))
	cfg.FieldPolicy = strings.ToLower(strings.TrimSpace(cfg.FieldPolicy))
	cfg.FHIRVersion = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.FHIRVersion), "-"))
	cfg.FHIRBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FHIRBaseURL), "/")

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasTarget reports whether payloads go to a remote endpoint instead of stdout.
func (c *Config) HasTarget() bool {
	return c.FHIRBaseURL != ""
}

// Validate checks enum values and the endpoint URL.
func (c *Config) Validate() error {
	switch c.BundleMode {
	case BundleModeRun, BundleModePatient, BundleModeNone:
	default:
		return fmt.Errorf("BUNDLE_MODE must be %q, %q or %q, got %q",
			BundleModeRun, BundleModePatient, BundleModeNone, c.BundleMode)
	}

	switch c.FieldPolicy {
	case FieldPolicyStrict, FieldPolicyLenient:
	default:
		return fmt.Errorf("FIELD_POLICY must be %q or %q, got %q",
			FieldPolicyStrict, FieldPolicyLenient, c.FieldPolicy)
	}

	if c.FHIRVersion != FHIRVersionDSTU2 {
		return fmt.Errorf("FHIR_VERSION %q is not supported, only %q", c.FHIRVersion, FHIRVersionDSTU2)
	}

	if c.IDPrefix == "" {
		return fmt.Errorf("ID_PREFIX must not be empty")
	}

	if c.FHIRBaseURL != "" {
		u, err := url.Parse(c.FHIRBaseURL)
		if err != nil {
			return fmt.Errorf("FHIR_BASE_URL is not a valid url: %w", err)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("FHIR_BASE_URL scheme must be http or https, got %q", u.Scheme)
		}
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}

	return nil
}
