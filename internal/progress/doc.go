// Package progress provides progress reporting for asset transfers.
//
// This package outputs human-readable progress information, including
// completion percentage, transfer speed, and ETA, for the asset currently
// being downloaded.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Output: os.Stderr})
//
//	reporter.Begin(a.String(), totalBytes, alreadyOnDisk)
//	defer reporter.End()
//
//	// Count bytes as they are written
//	w := reporter.Writer(file)
//
// # Output Format
//
//	[espadl] LC08_L1TP_042034 (3 of 12): 45.2% | 1.13 GiB / 2.50 GiB | Speed: 12.4 MiB/s | ETA: 1m 52s
package progress
