// Package portal exposes a directory tree for browsing, file downloads,
// directory archive downloads and chunked uploads.
//
// A [Service] ties together the served tree (any billy filesystem, usually
// an osfs bound to the root), an [upload.Manager] and a scratch directory for
// archives. Client paths pass through [Service.Resolve] and can never leave
// the root. Errors are tagged with [ErrNotFound] or [ErrInvalidRequest] so a
// transport can map them to its own status codes.
package portal
