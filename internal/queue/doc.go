// Package queue persists archive items and their lifecycle in SQLite.
package queue
