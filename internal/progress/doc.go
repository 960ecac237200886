// Package progress provides progress reporting for batch downloads.
//
// A Reporter aggregates byte counts pushed by many concurrent transfers.
// Each transfer owns exactly one Indicator; no synchronization is needed on
// the caller's side.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize:  totalBytes,
//	    TotalFiles: len(targets),
//	    Output:     os.Stdout,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	ind := reporter.NewIndicator(size, "/data/file.bin")
//	ind.SetPosition(n) // after every chunk
//	ind.Finish()       // or ind.Fail()
//
// # Output Format
//
// On a terminal one bar is drawn per in-flight file, followed by:
//
//	[cdnmirror] Progress: 45.2% | 1.13 GiB / 2.50 GiB | Speed: 120.00 MiB/s | ETA: 11s
//	[cdnmirror] Files: 46 completed | 15 in-progress | 0 failed | 55 pending
//
// Elsewhere only the two summary lines are printed on each update.
package progress
