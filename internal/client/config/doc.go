// Package config loads runtime configuration for the collector client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file selected with -c or -config. Files ending
//     in .yaml or .yml are read as YAML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the backend gRPC endpoint
//	-r string   websocket URL of the realtime channel ("" disables realtime)
//	-d string   path of the local SQLite database
//	-b string   branch id the collector works for
//	-u string   user id of the collector
//	-t string   access token
//	-i int      online status check interval (seconds)
//	-m string   address to serve /metrics on ("" disables it)
//
// # File schema
//
// Durations use timex.Duration, so values can be strings like "30s" or
// integer nanoseconds:
//
//	server_endpoint_addr: 127.0.0.1:50051
//	realtime_url: ws://127.0.0.1:8080/realtime
//	db_path: loancollect.db
//	branch_id: 0b000000-0000-4000-8000-000000000001
//	collector_id: 0c000000-0000-4000-8000-000000000001
//	online_check_interval: 30s
//	busy_interval: 15s
//	idle_interval: 5m
//	batch_size: 5
//	page_size: 500
//	safety_margin: 5m
//	push_timeout: 15s
//	pull_timeout: 120s
package config
