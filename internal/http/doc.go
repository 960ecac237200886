// Package http provides the HTTP client used to talk to the CDN.
//
// This package handles:
//   - Connection pooling sized for many parallel transfers
//   - Streaming GET requests (the body is never buffered)
//   - Mapping non-success status codes to errors
//
// Requests are never retried.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	resp, err := client.Get(ctx, url)
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
package http
