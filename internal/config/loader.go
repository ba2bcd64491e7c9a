package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load builds a Config from the environment. Each leaf field names its
// variable in an env tag, may name a fallback variable in envAlt, and takes
// its default tag when both are unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := fill(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// parse converts a raw setting into a value of type t. Config only uses
// these kinds; any other field type is a programming error.
func parse(t reflect.Type, raw string) (any, error) {
	if t == durationType {
		return time.ParseDuration(raw)
	}
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Int:
		return strconv.Atoi(raw)
	case reflect.Bool:
		return strconv.ParseBool(raw)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.String {
			return splitList(raw), nil
		}
	}
	return nil, fmt.Errorf("no parser for %s", t)
}

// fill walks the section structs of Config and sets every tagged field.
func fill(section reflect.Value) error {
	st := section.Type()
	for i := range st.NumField() {
		f, v := st.Field(i), section.Field(i)
		if f.Type.Kind() == reflect.Struct {
			if err := fill(v); err != nil {
				return err
			}
			continue
		}

		name := f.Tag.Get("env")
		if name == "" {
			continue
		}
		raw := lookup(name, f.Tag.Get("envAlt"), f.Tag.Get("default"))
		if raw == "" {
			continue
		}

		val, err := parse(f.Type, raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
		v.Set(reflect.ValueOf(val).Convert(f.Type))
	}
	return nil
}

// lookup returns the first non-blank of the primary variable, the alternate
// variable and the default.
func lookup(name, alt, def string) string {
	for _, key := range []string{name, alt} {
		if key == "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return def
}

// splitList parses a comma-separated setting, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// problems collects validation failures across sections.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		p.addf(format, args...)
	}
}

// Validate reports every invalid setting at once so a bad deployment is
// fixed in one pass.
func (c *Config) Validate() error {
	var p problems

	s := c.Server
	p.check(s.Port > 0 && s.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", s.Port)
	p.check(s.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(s.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	p.check(s.RequestTimeout > 0, "SERVER_REQUEST_TIMEOUT must be positive")

	// Pool sizing only matters once a database is configured.
	if db := c.Database; db.Enabled() {
		p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
		p.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
		p.check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)
	}

	ses := c.Session
	p.check(ses.IdleTimeout > 0, "SESSION_IDLE_TIMEOUT must be positive")
	p.check(ses.SweepInterval > 0, "SESSION_SWEEP_INTERVAL must be positive")
	p.check(ses.MaxOpen > 0, "SESSION_MAX_OPEN must be positive")

	p.check(!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0,
		"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is set but API_KEYS is empty")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		p.addf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		p.addf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%d invalid setting(s):\n  - %s", len(p), strings.Join(p, "\n  - "))
}

// String renders the config for startup logs with the database URL and API
// keys masked.
func (c *Config) String() string {
	db := "none"
	if c.Database.Enabled() {
		db = "[MASKED]"
	}
	sections := []string{
		fmt.Sprintf("Server: {Host: %q, Port: %d}", c.Server.Host, c.Server.Port),
		fmt.Sprintf("Database: {URL: %s, MaxConns: %d}", db, c.Database.MaxConns),
		fmt.Sprintf("Session: {IdleTimeout: %s, MaxOpen: %d}", c.Session.IdleTimeout, c.Session.MaxOpen),
		fmt.Sprintf("Catalog: {Path: %q}", c.Catalog.Path),
		fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}", c.Rate.Enabled, c.Rate.RequestsPerMinute),
		fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d}", c.Security.RequireAPIKey, len(c.Security.APIKeys)),
		fmt.Sprintf("Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format),
	}
	return "Config{" + strings.Join(sections, ", ") + "}"
}
