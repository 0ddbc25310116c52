/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the warden
daemon, tracking HTTP requests, sandbox invocations, the compiled-module
cache, WebSocket connections, and system metrics.

# Features

- HTTP request metrics (latency, throughput)
- Invocation metrics (duration, outcome by error kind, in-flight gauge)
- Module metrics (submitted size distribution)
- Compiled-module cache metrics (hits, misses)
- WebSocket connection metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Time invocations
	timer := monitoring.NewTimer(metrics, "wasm", len(module))
	// ... execute ...
	timer.Stop(errorKind)

# Metrics Endpoint

Each Metrics instance owns its registry; expose it with:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
