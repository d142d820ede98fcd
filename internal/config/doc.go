// Package config loads and validates PermaVid configuration from TOML.
package config
