package config

import "time"

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver selects the store: postgres or memory
	Driver       string
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	// TxTimeout bounds a single commit attempt
	TxTimeout time.Duration
}

// GetConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return c.URL
}

// IsMemory returns true when the in-memory store is selected
func (c *DatabaseConfig) IsMemory() bool {
	return c.Driver == DriverMemory
}
