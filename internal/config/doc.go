// Package config defines configuration for the espadl CLI.
//
// Configuration can be provided via, in increasing order of precedence:
//   - Defaults (see Default)
//   - YAML configuration file
//   - .env files and environment variables (ESPADL_ prefix)
//   - Command-line flags
//
// # Structure
//
//	type Config struct {
//	    Host, Email, Username, Password string
//	    Order     string // "ALL" for every order
//	    Directory string
//	    Source    string // "api" or "feed"
//	    Checksum  bool
//	    ChunkSize int64
//	    Pacing    PacingConfig
//	    HTTP      HTTPConfig
//	    Mirror    MirrorConfig
//	}
//
// Validate checks field constraints; RequireCredentials checks the fields
// needed to reach the order service and PromptPassword fills in a missing
// password from the terminal.
package config
