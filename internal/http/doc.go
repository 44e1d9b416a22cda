// Package http provides a client for the portal server API.
//
// This package handles:
//   - Chunk uploads from any io.ReaderAt, re-reading the chunk on retry
//   - File and directory archive downloads
//   - Retry with exponential backoff on transport failures and 5xx responses
//   - Mapping error responses back to sentinel errors
//
// Starting an upload is never retried; every other call is.
//
// # Usage
//
//	client := http.NewClient("http://localhost:6565", http.DefaultOptions())
//
//	info, err := client.StartUpload(ctx, "movie.mkv", size, 8)
//	status, err := client.UploadChunk(ctx, info.ID, 0, file, 0, chunkSize)
//
//	d, err := client.DownloadArchive(ctx, "photos")
//	defer d.Body.Close()
package http
