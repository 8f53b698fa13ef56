// Package config reads process configuration for the binaries from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/vishallnvk/knowlio/search"
	"github.com/vishallnvk/knowlio/store"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the process configuration.
type Config struct {
	// Region is the AWS region. Empty defers to the SDK chain.
	Region string

	// Store holds the table naming.
	Store store.Config

	// SchemaFile is an optional registry override. Empty uses the
	// embedded default.
	SchemaFile string

	// CursorSecret signs pagination tokens.
	CursorSecret string

	// StrictUniqueness turns on transactional unique guards.
	StrictUniqueness bool

	LogFormat string
	LogLevel  string

	// Search locates the index written by the stream sync.
	Search search.Config

	// PushGateway is the Prometheus Pushgateway URL the binaries push
	// their collectors to after each invocation. Empty disables pushing.
	PushGateway string
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	strict, err := parseBool(get("STRICT_UNIQUENESS", ""), false)
	if err != nil {
		return Config{}, fmt.Errorf("parse STRICT_UNIQUENESS: %w", err)
	}
	serverless, err := parseBool(get("OPENSEARCH_SERVERLESS", ""), false)
	if err != nil {
		return Config{}, fmt.Errorf("parse OPENSEARCH_SERVERLESS: %w", err)
	}

	region := get("AWS_REGION", get("AWS_DEFAULT_REGION", ""))
	defaults := store.DefaultConfig()
	cfg := Config{
		Region: region,
		Store: store.Config{
			TablePrefix: get("TABLE_PREFIX", defaults.TablePrefix),
			UniqueTable: get("UNIQUE_TABLE", defaults.UniqueTable),
		},
		SchemaFile:       get("SCHEMA_FILE", ""),
		CursorSecret:     get("CURSOR_SECRET", ""),
		StrictUniqueness: strict,
		LogFormat:        strings.ToLower(get("LOG_FORMAT", FormatJSON)),
		LogLevel:         strings.ToLower(get("LOG_LEVEL", "info")),
		Search: search.Config{
			Endpoint:   get("OPENSEARCH_ENDPOINT", ""),
			Index:      get("OPENSEARCH_INDEX_NAME", search.DefaultIndex),
			Region:     region,
			Serverless: serverless,
		},
		PushGateway: get("PROMETHEUS_PUSHGATEWAY", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings every binary needs.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.LogFormat, validation.In(FormatJSON, FormatText)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.PushGateway, is.URL),
	)
}

// ValidateAPI checks the settings the entity API needs on top of
// Validate.
func (c Config) ValidateAPI() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CursorSecret, validation.Required.Error("CURSOR_SECRET is required"), validation.Length(16, 0)),
	)
}

// ValidateSearch checks the settings the index sync needs on top of
// Validate.
func (c Config) ValidateSearch() error {
	s := c.Search
	return validation.ValidateStruct(&s,
		validation.Field(&s.Endpoint, validation.Required.Error("OPENSEARCH_ENDPOINT is required"), validation.When(!strings.Contains(s.Endpoint, "://"), is.Host)),
		validation.Field(&s.Region, validation.Required.Error("AWS_REGION is required")),
		validation.Field(&s.Index, validation.Required),
	)
}

func parseBool(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(raw)
}
