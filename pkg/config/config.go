package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "./data/tinyuptime"
	DefaultBackend     = "badger"
	DefaultMaxMemoryMB = 48
	DefaultMaxDiskGB   = 1
	DefaultLogLevel    = "info"
)

// HTTP server timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
	TaskStopTimeout    = 5 * time.Second
)

// Background tasks
const (
	BadgerGCInterval     = 10 * time.Minute
	BadgerGCDiscardRatio = 0.5
)

// Query defaults and limits
const (
	QueryTimeout         = 10 * time.Second
	QueryDefaultDuration = "24h"
	QueryCacheSize       = 1024
	QueryCacheTTL        = time.Minute
	ChartDefaultHours    = 24
)

// Ingest timeouts and limits
const (
	IngestTimeout        = 5 * time.Second
	IngestRateLimit      = 200 // heartbeats per second
	IngestRateBurst      = 400
	IngestMaxBodyBytes   = 1 << 16
	ImportMaxBodyBytes   = 32 << 20
	ImportTimeout        = 5 * time.Minute
	ImportMaxSamples     = 2_000_000
	DeleteTargetTimeout  = 30 * time.Second
	IngestMaxLatencyMs   = 10 * 60 * 1000
	IngestMaxTargetIDLen = 256
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 16
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
