// Package progress provides progress reporting for chunked transfers.
//
// This package outputs human-readable progress information to stderr,
// including completion percentage, transfer speed, and ETA. It also parses
// and formats byte sizes for flags and config files.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Action:      "Uploading",
//	    Target:      "movie.mkv",
//	    TotalSize:   totalBytes,
//	    TotalChunks: numChunks,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ChunkStarted()
//	reporter.BytesWritten(n)
//	reporter.ChunkCompleted()
//
// # Output Format
//
//	[portal] Uploading: movie.mkv
//	[portal] Total size: 40 GiB | Chunks: 640 x 64 MiB | Workers: 4
//	[portal] Progress: 45.2% | 18.1 GiB / 40 GiB | Speed: 112 MiB/s | ETA: 3m 20s
//	[portal] Chunks: 289 completed | 4 in-progress | 347 pending
package progress
