// Package logging builds the slog loggers used across PermaVid and
// provides attribute helpers with standardized field names.
package logging
