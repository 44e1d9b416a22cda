// Package config defines configuration for the portal server and CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (PORTAL_ prefix)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file, which overrides
// [Default]. Sizes accept human units ("64MiB", "1GB") and durations use Go
// syntax ("90s", "1h").
//
// # Example
//
//	listen: ":6565"
//	root: /srv/share
//	upload_dir: /srv/share/incoming
//	chunk_bucket: s3://portal-chunks?region=eu-west-1
//	max_chunk_size: 128MiB
//	upload:
//	  session_ttl: 2h
//	archive:
//	  workers: 8
//	  grace_delay: 5m
//	log:
//	  level: debug
//	  format: json
package config
