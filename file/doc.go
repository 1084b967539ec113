// Package file provides the on-disk side of radio file transfers.
//
// # Overview
//
//   - Source: reads a local file in chunks for sending and computes its
//     verification hash
//   - Store: writes received chunks at their offsets into "<name>.part"
//     under a root directory, hashes, finalizes or discards them
//   - Meter: tracks throughput with an exponential moving average
//
// Remote paths are untrusted. Store.Resolve rejects absolute paths and any
// ".." component before a path touches the file system.
//
// # Verification Hash
//
// HashPrefix covers only the first n bytes of a file (callers pass
// limits.HashPrefixSize). Both ends of a transfer must use the same n.
//
//	store := file.NewStore("/srv/incoming")
//	if err := store.WriteChunk("logs/a.txt", 0, chunk); err != nil {
//	    return err
//	}
//	sum, err := store.PrefixHash("logs/a.txt", limits.HashPrefixSize)
package file
