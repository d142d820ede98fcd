// Package daemon coordinates the long-running PermaVid process.
//
// It wires configuration, the queue store, the download processor, the
// upload stage, and the encoding reconciler into a single lifecycle with
// flock-based locking to prevent multiple instances, and serves the HTTP
// API the CLI talks to.
//
// Keep orchestration logic here: individual pipeline stages live in their
// respective packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
