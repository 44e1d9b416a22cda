// Package uploader sends a local file to a portal server in parallel chunks.
//
// The file is split into fixed-size chunks and a session declaring that
// chunk count is opened on the server. Workers receive chunk indices from a
// channel and send each chunk with retries; the server assembles the file
// when the last chunk arrives, whichever worker delivers it.
//
// # Usage
//
//	res, err := uploader.Upload(ctx, client, file, size, "movie.mkv", uploader.Options{
//	    Workers:   4,
//	    ChunkSize: 64 * 1024 * 1024,
//	    Progress:  reporter,
//	})
//
// # Failure Handling
//
// A circuit breaker stops the upload after too many consecutive chunk
// failures. Any failed upload aborts its server session so no chunks are
// left behind.
package uploader
