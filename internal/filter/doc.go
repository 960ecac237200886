// Package filter selects manifest entries by glob pattern.
//
// Patterns use github.com/gobwas/glob syntax (*, ?, **, [a-z], {a,b}) and
// are matched against the manifest path including its leading slash.
package filter
