// Package storage provides the destinations downloads are written to.
//
// A local directory is the default. Any gocloud.dev/blob URL (file://,
// mem://, s3://, gs://) selects a bucket instead; objects are keyed by the
// manifest path without its leading slash.
//
//	sink, err := storage.Open(ctx, "./mirror")
//	sink, err := storage.Open(ctx, "s3://bucket?region=us-east-1")
package storage
