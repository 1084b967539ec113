package xtp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind is the message tag carried in the first byte.
type Kind byte

const (
	KindHello        Kind = 0x08
	KindRequest      Kind = 0x09
	KindBegin        Kind = 0x0a
	KindGetAcks      Kind = 0x0b
	KindAcks         Kind = 0x0c
	KindData         Kind = 0x0d
	KindTransferDone Kind = 0x0e
	KindHashCheck    Kind = 0x11
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindRequest:
		return "REQUEST"
	case KindBegin:
		return "BEGIN"
	case KindGetAcks:
		return "GET_ACKS"
	case KindAcks:
		return "ACKS"
	case KindData:
		return "DATA"
	case KindTransferDone:
		return "TRANSFER_DONE"
	case KindHashCheck:
		return "HASH_CHECK"
	default:
		return fmt.Sprintf("KIND(0x%02x)", byte(k))
	}
}

var (
	// ErrUnknownMessage indicates a tag this protocol does not define.
	ErrUnknownMessage = errors.New("unknown xtp message")

	// ErrShortMessage indicates a message truncated before its fixed fields end.
	ErrShortMessage = errors.New("short xtp message")

	// ErrBadPath indicates a path field that is not valid UTF-8.
	ErrBadPath = errors.New("path is not valid utf-8")
)

// Message is one xTP protocol message.
type Message interface {
	Kind() Kind
	appendPayload(b []byte) []byte
}

// Hello is the receiver's idle beacon.
type Hello struct{}

// Request opens the transfer of one chunk.
type Request struct {
	Offset    uint32
	TotalSize uint32
	// LastIndex is the zero-based index of the chunk's last DATA fragment.
	LastIndex uint32
	CRC       uint32
	Path      string
}

// Begin accepts a Request.
type Begin struct{}

// GetAcks asks the receiver for its acknowledgement bitmap.
type GetAcks struct{}

// Acks reports which DATA fragments the receiver holds.
type Acks struct {
	// Count is the number of DATA fragments the receiver expects.
	Count  uint32
	Bitmap []byte
}

// Data carries one fragment of the current chunk.
type Data struct {
	Index uint32
	Chunk []byte
}

// TransferDone tells the receiver the sender considers the chunk complete.
type TransferDone struct{}

// HashCheck asks for, or reports, whole-file verification.
type HashCheck struct {
	RemoteHash   [16]byte
	ComputedHash [16]byte
	Path         string
}

func (Hello) Kind() Kind        { return KindHello }
func (Request) Kind() Kind      { return KindRequest }
func (Begin) Kind() Kind        { return KindBegin }
func (GetAcks) Kind() Kind      { return KindGetAcks }
func (Acks) Kind() Kind         { return KindAcks }
func (Data) Kind() Kind         { return KindData }
func (TransferDone) Kind() Kind { return KindTransferDone }
func (HashCheck) Kind() Kind    { return KindHashCheck }

func (Hello) appendPayload(b []byte) []byte        { return b }
func (Begin) appendPayload(b []byte) []byte        { return b }
func (GetAcks) appendPayload(b []byte) []byte      { return b }
func (TransferDone) appendPayload(b []byte) []byte { return b }

func (m Request) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Offset)
	b = binary.BigEndian.AppendUint32(b, m.TotalSize)
	b = binary.BigEndian.AppendUint32(b, m.LastIndex)
	b = binary.BigEndian.AppendUint32(b, m.CRC)
	return append(b, m.Path...)
}

func (m Acks) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Count)
	return append(b, m.Bitmap...)
}

func (m Data) appendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, m.Index)
	return append(b, m.Chunk...)
}

func (m HashCheck) appendPayload(b []byte) []byte {
	b = append(b, m.RemoteHash[:]...)
	b = append(b, m.ComputedHash[:]...)
	return append(b, m.Path...)
}

// Fixed sizes, tag included.
const (
	requestHeaderSize   = 17
	acksHeaderSize      = 5
	dataHeaderSize      = 5
	hashCheckHeaderSize = 33
)

// Encode serializes m with its tag.
func Encode(m Message) []byte {
	return m.appendPayload([]byte{byte(m.Kind())})
}

// Decode parses one message. Byte slices in the result are copies.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrShortMessage)
	}

	kind := Kind(b[0])
	need := map[Kind]int{
		KindRequest:   requestHeaderSize,
		KindAcks:      acksHeaderSize,
		KindData:      dataHeaderSize,
		KindHashCheck: hashCheckHeaderSize,
	}[kind]
	if len(b) < need {
		return nil, fmt.Errorf("%w: %s of %d bytes", ErrShortMessage, kind, len(b))
	}

	switch kind {
	case KindHello:
		return Hello{}, nil
	case KindBegin:
		return Begin{}, nil
	case KindGetAcks:
		return GetAcks{}, nil
	case KindTransferDone:
		return TransferDone{}, nil
	case KindRequest:
		path := b[requestHeaderSize:]
		if !utf8.Valid(path) {
			return nil, ErrBadPath
		}
		return Request{
			Offset:    binary.BigEndian.Uint32(b[1:5]),
			TotalSize: binary.BigEndian.Uint32(b[5:9]),
			LastIndex: binary.BigEndian.Uint32(b[9:13]),
			CRC:       binary.BigEndian.Uint32(b[13:17]),
			Path:      string(path),
		}, nil
	case KindAcks:
		return Acks{
			Count:  binary.BigEndian.Uint32(b[1:5]),
			Bitmap: append([]byte(nil), b[acksHeaderSize:]...),
		}, nil
	case KindData:
		return Data{
			Index: binary.BigEndian.Uint32(b[1:5]),
			Chunk: append([]byte(nil), b[dataHeaderSize:]...),
		}, nil
	case KindHashCheck:
		path := b[hashCheckHeaderSize:]
		if !utf8.Valid(path) {
			return nil, ErrBadPath
		}
		var m HashCheck
		copy(m.RemoteHash[:], b[1:17])
		copy(m.ComputedHash[:], b[17:33])
		m.Path = string(path)
		return m, nil
	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownMessage, b[0])
	}
}
