// Package downloader fetches order assets to the local tree, resuming
// partial transfers across runs.
//
// # Transfer
//
// [Downloader.Download] drives one asset through
//
//	NOT_STARTED -> FETCHING -> COMPLETE
//	                  |
//	                  +-----> ABORTED
//
// An asset whose final file exists is skipped without any network request.
// Otherwise the remote size is read once with a HEAD request and the partial
// file size is used as the starting offset. [Fetcher.FetchFrom] appends the
// remainder to the partial file with an open-ended range request; between
// requests a [Pacer] chooses a delay. Once the partial file holds exactly the
// remote size it is renamed to its final name.
//
// A failed request aborts the asset and leaves the partial file in place.
// Nothing is retried in-process: the next run resumes from the bytes on disk.
//
// # Batches
//
// [Batch.Run] consumes a lazy sequence of assets strictly one at a time.
// Per-asset failures are collected in a [Summary] and never stop the batch,
// except credential rejections which end the run.
package downloader
