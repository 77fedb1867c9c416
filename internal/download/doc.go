// Package download streams remote files to disk.
//
// A Downloader performs exactly one HTTP attempt per call. Retry policy,
// hash verification and the decision to cache-bust belong to the caller;
// Transient classifies failures for it.
//
// # Atomicity
//
// Bodies are written to "<dest>.part" and renamed onto the destination only
// after the last byte arrives. A failed transfer removes its part file.
//
// # Status handling
//
// Any response outside 2xx becomes a *StatusError. 408, 425, 429 and 5xx are
// temporary; everything else (404, 403, 410, ...) is permanent.
package download
