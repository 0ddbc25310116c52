// Package main is the entry point for the warden execution daemon.
//
// wardend exposes a sandboxed bytecode-module execution boundary over
// HTTP and WebSocket: clients submit a compiled WebAssembly module, a
// function name, and an argument list; the daemon runs the function
// inside an isolated VM and returns a value or a classified failure.
//
// The daemon provides:
//   - REST API for one-shot invocations and module validation
//   - WebSocket streaming of guest stdout/stderr
//   - Capability profiles gating host access
//   - Rate limiting and Prometheus metrics
//
// Configuration:
//   - WARDEN_* environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./wardend -port 8090
//
//	# Development mode (colored logs, debug level)
//	./wardend -dev
//
//	# Without an execution engine (every call fails not_implemented)
//	./wardend -engine none
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
