// Package xtp implements the chunked, acknowledgement-based file transfer
// protocol that runs over a radio transport.
//
// A file is sent as a series of chunks (6 KiB by default). Each chunk is
// opened with a REQUEST carrying its offset, size, fragment count and
// CRC32; the receiver answers BEGIN. The sender then streams every DATA
// fragment without waiting, flushes the transport, and asks for the
// receiver's acknowledgement bitmap with GET_ACKS. Only fragments the
// receiver has not acknowledged are sent again, until the bitmap is full
// or the retry budget is spent.
//
// After the last chunk the sender sends a HASH_CHECK with the MD5 of the
// first HashPrefix bytes of the local file. The receiver hashes the same
// prefix of what it wrote, renames the ".part" file into place on a match,
// and echoes its hash back. A zero hash in the reply means the receiver
// rejected the file. Only the prefix is hashed; peers rely on that.
//
// Sender:
//
//	client := xtp.NewClient(t, xtp.DefaultConfig())
//	result, err := client.SendFile(ctx, "photo.jpg", "photos/photo.jpg")
//
// Receiver:
//
//	server := xtp.NewServer(file.NewStore("inbox"), xtp.DefaultConfig(), logger)
//	err := server.Serve(ctx, t)
//
// The receiver keeps one Session per source address, so concurrent
// senders do not interfere. While no traffic arrives it broadcasts a HELLO
// beacon every BeaconInterval so senders can discover it.
package xtp
