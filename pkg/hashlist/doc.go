// Package hashlist implements the content-addressed change-tracking store used
// to skip unchanged files when re-deploying to a host.
//
// A Store maps a remote file path to the SHA-256 digest of the local file that
// was last uploaded there. The store is persisted on the remote host as a flat
// sequence of records with no header:
//
//	+----------------+------------------+------------------+
//	| len (uint16 LE)| path (len bytes) | sha256 (32 bytes)|
//	+----------------+------------------+------------------+
//
// The total length of the file is the only framing, so [Load] reads records
// back to back until the input is exhausted and rejects a truncated final
// record with [ErrCorruptFormat].
//
// # Basic Usage
//
//	store, err := hashlist.Load(data)
//	if err != nil {
//		store = hashlist.New()
//	}
//
//	digest, err := hashlist.HashFile("build/app.bin")
//	if err != nil {
//		return err
//	}
//	if err := store.Update("/opt/app/app.bin", digest); err != nil {
//		return err
//	}
//
//	persisted := store.Serialize()
//
// A Store is owned by a single deployment session and is not safe for
// concurrent use.
package hashlist
