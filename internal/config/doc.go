// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, .env files, config files). It
// provides type-safe access to the settings needed by the API server and the
// task worker while keeping configuration details out of business logic.
package config
