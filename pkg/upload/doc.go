// Package upload reassembles large files from chunks uploaded in any order.
//
// A client starts a session with [Manager.Create], declaring the file name,
// its size and how many chunks it will send. Each chunk is then delivered with
// [Manager.ReceiveChunk], possibly concurrently and out of order. Chunks are
// persisted to a [ChunkStore], which is storage-agnostic via gocloud.dev/blob
// (a local directory, memory, or an object store).
//
// When the last distinct chunk index arrives, the same call assembles the
// destination file in ascending chunk order, deleting every chunk as soon as
// it has been copied, and removes the session. Completion happens exactly once
// per session even if the final chunk is raced by several callers.
//
// # Storage Layout
//
//	{bucket}/{prefix}{session}/chunk-000000-{nonce}
//	{bucket}/{prefix}{session}/chunk-000001-{nonce}
//
// Every write gets a fresh nonce so a retried chunk never overwrites a blob
// that is being read.
//
// # Expiry
//
// Sessions that see no activity for longer than the configured TTL are
// evicted by [Manager.Sweep]; run [Manager.Run] in the background to sweep
// periodically. Evicted sessions lose their chunks.
package upload
