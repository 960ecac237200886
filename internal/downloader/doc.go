// Package downloader runs a batch of streaming HTTP downloads into a
// storage.Sink with a bounded number of transfers in flight.
//
// # Usage
//
// Resolve descriptors against the base URL, then run them:
//
//	targets := downloader.Plan(downloader.Descriptors(resolved.Resources), resolved.BaseURL)
//	results := downloader.Run(ctx, targets, sink, downloader.Options{
//	    Concurrency: 15,
//	    Progress:    reporter,
//	    Logger:      logger,
//	})
//	summary := downloader.Summarize(results)
//
// # Pool
//
// Every target gets its own goroutine, but a weighted semaphore admits at
// most Concurrency of them past the request. A slot is held until the
// response body and the destination are closed, success or not.
//
// # Failures
//
// A failed target is reported in its Result as a *DownloadError naming the
// step that failed. Nothing is retried, and a failure never cancels the
// rest of the batch. Cancelling ctx stops the batch: waiting targets fail
// to acquire a slot and in-flight requests are aborted.
//
// Partial local files are left in place. Partial bucket objects are
// discarded.
package downloader
