// Package config defines configuration structures for the cdnmirror CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (CDNMIRROR_ prefix)
//   - YAML configuration file
//
// Later sources override earlier ones: defaults, then the file, then the
// environment, then flags.
//
// # Example file
//
//	index_url: https://example.com/index.json
//	output: ./mirror
//	filelist: ./patterns.txt
//	concurrency: 15
//	buffer_size: 64KiB
//	timeout: 1m
//	log_level: debug
//	log_format: json
package config
