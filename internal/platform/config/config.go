package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"gopkg.in/yaml.v3"

	dErrors "phiguard/pkg/domain-errors"
)

const (
	DefaultRotationIntervalDays = 90
	DefaultKeyRetentionDays     = 365
	DefaultAuditRetentionDays   = 2190
	DefaultAuditWriteTimeout    = 5 * time.Second
	DefaultEmergencyTimeout     = 2 * time.Second

	StoreMemory   = "memory"
	StorePostgres = "postgres"

	SensitivityNormal = "normal"
	SensitivityHigh   = "high"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	// JWTIssuer and JWTAudience are checked when set.
	JWTIssuer   string
	JWTAudience string
	LogLevel    string
}

// Otel configures trace export.
type Otel struct {
	Enabled      bool
	Endpoint     string
	ServiceName  string
	SamplingRate float64
}

// Keys configures the key manager.
type Keys struct {
	RotationIntervalDays int
	RetentionDays        int
	// MasterKey seeds the at-rest wrapping key. Empty means an ephemeral
	// key, which is only acceptable for the memory store.
	MasterKey string
}

// Audit configures the audit log.
type Audit struct {
	RetentionDays int
	WriteTimeout  time.Duration
	// EmergencyTimeout bounds delivery of an entry the store rejected.
	EmergencyTimeout time.Duration
	RedisKey         string
}

// Database selects and configures persistence.
type Database struct {
	Driver       string
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig configures the optional Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the optional Kafka emergency channel.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Config is the full runtime configuration.
type Config struct {
	Server     Server
	Keys       Keys
	Audit      Audit
	Database   Database
	Redis      RedisConfig
	Kafka      Kafka
	Otel       Otel
	PolicyFile string
	Policy     Policy
}

// Policy is the access policy document. It is loaded from YAML when a
// policy file is configured and falls back to DefaultPolicy otherwise.
type Policy struct {
	// Sensitivity maps a data category to normal or high. Unlisted
	// categories are normal.
	Sensitivity map[string]string `yaml:"sensitivity"`
	// CategoryGroups maps a group name to the categories it covers. A
	// consent for the group matches requests for any member.
	CategoryGroups map[string][]string   `yaml:"category_groups"`
	EmergencyRoles []string              `yaml:"emergency_roles"`
	Roles          map[string]RolePolicy `yaml:"roles"`
}

// RolePolicy describes what one role may do.
type RolePolicy struct {
	// ResourceTypes maps a resource type to its permitted actions.
	ResourceTypes map[string][]string `yaml:"resource_types"`
	// Categories, when set, restricts the role to these data categories.
	Categories []string `yaml:"categories,omitempty"`
	// Hours, when set, restricts the role to a UTC hour window.
	Hours *HourWindow `yaml:"hours,omitempty"`
}

// HourWindow is [Start, End) in UTC hours. Start > End wraps midnight.
type HourWindow struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// FromEnv builds a Config from environment variables so main stays lean.
// It does not validate; call Validate before use.
func FromEnv() (Config, error) {
	var errs errsx.Map

	cfg := Config{
		Server: Server{
			Addr:          envOr("PHIGUARD_ADDR", ":8080"),
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			JWTIssuer:     os.Getenv("JWT_ISSUER"),
			JWTAudience:   os.Getenv("JWT_AUDIENCE"),
			LogLevel:      envOr("LOG_LEVEL", "INFO"),
		},
		Keys: Keys{
			RotationIntervalDays: envInt(&errs, "KEY_ROTATION_INTERVAL_DAYS", DefaultRotationIntervalDays),
			RetentionDays:        envInt(&errs, "KEY_RETENTION_DAYS", DefaultKeyRetentionDays),
			MasterKey:            os.Getenv("KEY_MASTER_SECRET"),
		},
		Audit: Audit{
			RetentionDays: envInt(&errs, "AUDIT_RETENTION_DAYS", DefaultAuditRetentionDays),
			WriteTimeout:  envDuration(&errs, "AUDIT_WRITE_TIMEOUT", DefaultAuditWriteTimeout),

			EmergencyTimeout: envDuration(&errs, "AUDIT_EMERGENCY_TIMEOUT", DefaultEmergencyTimeout),
			RedisKey:         os.Getenv("AUDIT_EMERGENCY_REDIS_KEY"),
		},
		Database: Database{
			Driver:       envOr("STORE_DRIVER", StoreMemory),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt(&errs, "DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt(&errs, "DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt(&errs, "REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt(&errs, "REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration(&errs, "REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration(&errs, "REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration(&errs, "REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_AUDIT_TOPIC", "phiguard.audit.emergency"),
		},
		Otel: Otel{
			Enabled:      os.Getenv("OTEL_ENABLED") == "true",
			Endpoint:     envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envOr("OTEL_SERVICE_NAME", "phiguard"),
			SamplingRate: envFloat(&errs, "OTEL_SAMPLING_RATE", 1.0),
		},
		PolicyFile: os.Getenv("POLICY_FILE"),
		Policy:     DefaultPolicy(),
	}

	if cfg.PolicyFile != "" {
		p, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			errs.Set("POLICY_FILE", err)
		} else {
			cfg.Policy = p
		}
	}

	if !errs.IsEmpty() {
		return Config{}, dErrors.Wrap(errs.AsError(), dErrors.CodeConfiguration, "invalid environment")
	}
	return cfg, nil
}

// LoadPolicyFile reads a YAML policy document.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	return p, nil
}

// RotationInterval returns the key rotation interval.
func (c Config) RotationInterval() time.Duration {
	return days(c.Keys.RotationIntervalDays)
}

// KeyRetention returns how long retired keys stay usable for decryption.
func (c Config) KeyRetention() time.Duration {
	return days(c.Keys.RetentionDays)
}

// AuditRetention returns how long audit entries are kept.
func (c Config) AuditRetention() time.Duration {
	return days(c.Audit.RetentionDays)
}

// Validate reports every problem at once. Configuration errors are fatal at
// init.
func (c Config) Validate() error {
	var errs errsx.Map

	if c.Keys.RotationIntervalDays <= 0 {
		errs.Set("keys.rotation_interval_days", "must be positive")
	}
	if c.Keys.RetentionDays <= 0 {
		errs.Set("keys.retention_days", "must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		errs.Set("audit.retention_days", "must be positive")
	}
	if c.Audit.WriteTimeout <= 0 {
		errs.Set("audit.write_timeout", "must be positive")
	}
	if c.Audit.EmergencyTimeout <= 0 {
		errs.Set("audit.emergency_timeout", "must be positive")
	}
	switch c.Database.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			errs.Set("database.url", "required for the postgres driver")
		}
		if c.Keys.MasterKey == "" {
			errs.Set("keys.master_key", "required for the postgres driver")
		}
	default:
		errs.Set("database.driver", fmt.Sprintf("unknown driver %q", c.Database.Driver))
	}
	if c.Keys.MasterKey != "" && len(c.Keys.MasterKey) < 32 {
		errs.Set("keys.master_key", "must be at least 32 bytes")
	}
	if c.Otel.SamplingRate < 0 || c.Otel.SamplingRate > 1 {
		errs.Set("otel.sampling_rate", "must be within 0-1")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs.Set("kafka.topic", "required when brokers are set")
	}
	if err := c.Policy.Validate(); err != nil {
		errs.Set("policy", err)
	}

	if errs.IsEmpty() {
		return nil
	}
	return dErrors.Wrap(errs.AsError(), dErrors.CodeConfiguration, "invalid configuration")
}

// Validate checks the policy document for internal consistency.
func (p Policy) Validate() error {
	var errs errsx.Map

	if len(p.Roles) == 0 {
		errs.Set("roles", "at least one role is required")
	}
	for category, level := range p.Sensitivity {
		if level != SensitivityNormal && level != SensitivityHigh {
			errs.Set("sensitivity."+category, fmt.Sprintf("unknown level %q", level))
		}
	}
	for group, members := range p.CategoryGroups {
		if len(members) == 0 {
			errs.Set("category_groups."+group, "group has no members")
		}
	}
	for _, role := range p.EmergencyRoles {
		if _, ok := p.Roles[role]; !ok {
			errs.Set("emergency_roles."+role, "emergency role has no role policy")
		}
	}
	for role, rp := range p.Roles {
		if len(rp.ResourceTypes) == 0 {
			errs.Set("roles."+role+".resource_types", "at least one resource type is required")
		}
		if rp.Hours != nil {
			if rp.Hours.Start < 0 || rp.Hours.Start > 23 || rp.Hours.End < 0 || rp.Hours.End > 24 {
				errs.Set("roles."+role+".hours", "hours must be within 0-24")
			}
		}
	}

	if errs.IsEmpty() {
		return nil
	}
	return errs.AsError()
}

// IsHighSensitivity reports whether category requires an exact-category consent.
func (p Policy) IsHighSensitivity(category string) bool {
	return p.Sensitivity[category] == SensitivityHigh
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() Policy {
	read := []string{"read"}
	readWrite := []string{"read", "write"}
	return Policy{
		Sensitivity: map[string]string{
			"mental_health":   SensitivityHigh,
			"genetic":         SensitivityHigh,
			"hiv_status":      SensitivityHigh,
			"substance_abuse": SensitivityHigh,
		},
		CategoryGroups: map[string][]string{
			"clinical":    {"lab_results", "medical_history", "medications", "imaging", "mental_health"},
			"demographic": {"demographic", "contact"},
		},
		EmergencyRoles: []string{"ER_DOCTOR"},
		Roles: map[string]RolePolicy{
			"doctor": {
				ResourceTypes: map[string][]string{"health_record": readWrite},
			},
			"nurse": {
				ResourceTypes: map[string][]string{"health_record": read},
				Categories:    []string{"demographic", "contact", "lab_results", "medications", "medical_history"},
			},
			"ER_DOCTOR": {
				ResourceTypes: map[string][]string{"health_record": readWrite},
			},
			"researcher": {
				ResourceTypes: map[string][]string{"health_record": read},
				Categories:    []string{"lab_results", "imaging"},
				Hours:         &HourWindow{Start: 8, End: 18},
			},
			"patient": {
				ResourceTypes: map[string][]string{"health_record": readWrite},
			},
		},
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(errs *errsx.Map, key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		errs.Set(key, errors.New("must be an integer"))
		return fallback
	}
	return v
}

func envFloat(errs *errsx.Map, key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		errs.Set(key, errors.New("must be a number"))
		return fallback
	}
	return v
}

func envDuration(errs *errsx.Map, key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		errs.Set(key, errors.New("must be a duration"))
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
