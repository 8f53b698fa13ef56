package store

// Config holds configuration for the Store.
type Config struct {
	// TablePrefix is prepended to every entity table name, so one account
	// can host several stages (e.g. "dev_").
	// Default: ""
	TablePrefix string

	// UniqueTable is the name of the unique constraints table.
	// Default: "knowlio_unique_constraints"
	UniqueTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		UniqueTable: "knowlio_unique_constraints",
	}
}

// validate fills in defaults for unset values.
func (c *Config) validate() {
	if c.UniqueTable == "" {
		c.UniqueTable = "knowlio_unique_constraints"
	}
}
