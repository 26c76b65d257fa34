package core

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file path.
	Path string
	// Logger receives operational logging. Defaults to NopLogger.
	Logger Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger: NopLogger(),
	}
}
