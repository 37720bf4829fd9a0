// Package store provides file-based persistence for the host application's
// data.
//
// It serialises data as JSON on disk, writing via a temp file and atomic
// rename so a crash mid-write never corrupts the on-disk record. All
// methods are concurrency-safe via internal locking. Stored files typically
// live under the user's configured home directory.
//
// The package includes:
//   - FingerprintFileStore, a file-backed fingerprint.Store
//   - SaveIdentity/LoadIdentity, a passphrase-sealed long-term identity store
package store
