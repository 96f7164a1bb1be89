// Package config provides environment-based configuration.
//
// Loads from a .env file (godotenv) when present, maps to the Config struct
// via go-simpler/env struct tags, and validates the few fields with
// constraints. The question duration is deliberately not configurable; 60
// seconds is part of the protocol.
package config
