package internal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// --------------------------------------------------------------------------
// Frame Layout
// --------------------------------------------------------------------------

/*
A frame is one record as it is stored on disk:

	+----------------+---------+-------+-------------+--------+-----+--------------+-------+
	| length (u32)   | crc u32 | flags | append time | keyLen | key | valueLen u32 | value |
	|                |         | u8    | i64         | u32    |     | (optional)   |       |
	+----------------+---------+-------+-------------+--------+-----+--------------+-------+
	                 |<--------------------------- payload (length bytes) ---------------->|

All integers are big-endian. The crc covers everything after itself. The value
part is only present if flags has flagHasValue set, a frame without it is a tombstone.
*/

const (
	LengthPrefixSize = 4 // size of the length prefix in front of every payload

	crcSize           = 4
	flagsSize         = 1
	appendTimeSize    = 8
	keyLenSize        = 4
	valueLenSize      = 4
	payloadHeaderSize = crcSize + flagsSize + appendTimeSize + keyLenSize

	// MaxPayloadSize bounds the payload of a single frame. A larger length prefix
	// can only come from corruption.
	MaxPayloadSize = 1 << 30
	// MaxFrameSize is the largest frame a reader accepts, length prefix included
	MaxFrameSize = LengthPrefixSize + MaxPayloadSize

	flagHasValue byte = 1 << 0
)

var (
	// ErrCorruptFrame is returned for frames whose bytes are complete but invalid
	ErrCorruptFrame = errors.New("corrupt frame")
	// ErrTruncatedFrame is returned for frames that end before their declared length
	ErrTruncatedFrame = errors.New("truncated frame")
)

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is the decoded content of a frame. Value holds the serialized value.
type Entry struct {
	Key        string
	AppendTime int64
	Value      []byte
	HasValue   bool // false for tombstones
}

// FrameSize returns the number of bytes Encode produces for the entry
func (e Entry) FrameSize() int {
	n := LengthPrefixSize + payloadHeaderSize + len(e.Key)
	if e.HasValue {
		n += valueLenSize + len(e.Value)
	}
	return n
}

// --------------------------------------------------------------------------
// Encoding / Decoding
// --------------------------------------------------------------------------

// Encode returns the complete frame (length prefix included) for the entry
func Encode(e Entry) []byte {
	frame := make([]byte, e.FrameSize())
	binary.BigEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(frame)-LengthPrefixSize))

	payload := frame[LengthPrefixSize:]
	pos := crcSize

	var flags byte
	if e.HasValue {
		flags |= flagHasValue
	}
	payload[pos] = flags
	pos += flagsSize

	binary.BigEndian.PutUint64(payload[pos:], uint64(e.AppendTime))
	pos += appendTimeSize

	binary.BigEndian.PutUint32(payload[pos:], uint32(len(e.Key)))
	pos += keyLenSize
	pos += copy(payload[pos:], e.Key)

	if e.HasValue {
		binary.BigEndian.PutUint32(payload[pos:], uint32(len(e.Value)))
		pos += valueLenSize
		copy(payload[pos:], e.Value)
	}

	binary.BigEndian.PutUint32(payload[:crcSize], crc32.ChecksumIEEE(payload[crcSize:]))
	return frame
}

// Decode decodes a complete frame (length prefix included).
// The returned entry references the given buffer.
func Decode(frame []byte) (Entry, error) {
	if len(frame) < LengthPrefixSize {
		return Entry{}, ErrTruncatedFrame
	}

	size := binary.BigEndian.Uint32(frame[:LengthPrefixSize])
	if size > MaxPayloadSize {
		return Entry{}, fmt.Errorf("%w: payload length %d exceeds limit", ErrCorruptFrame, size)
	}

	payload := frame[LengthPrefixSize:]
	switch {
	case uint64(len(payload)) < uint64(size):
		return Entry{}, ErrTruncatedFrame
	case uint64(len(payload)) > uint64(size):
		return Entry{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptFrame, uint64(len(payload))-uint64(size))
	}

	return decodePayload(payload)
}

// decodePayload decodes the payload of a frame (without the length prefix)
func decodePayload(payload []byte) (Entry, error) {
	if len(payload) < payloadHeaderSize {
		return Entry{}, fmt.Errorf("%w: payload of %d bytes is shorter than the header", ErrCorruptFrame, len(payload))
	}

	if want, got := binary.BigEndian.Uint32(payload[:crcSize]), crc32.ChecksumIEEE(payload[crcSize:]); want != got {
		return Entry{}, fmt.Errorf("%w: checksum mismatch (want %08x, got %08x)", ErrCorruptFrame, want, got)
	}

	pos := crcSize
	flags := payload[pos]
	pos += flagsSize
	if flags&^flagHasValue != 0 {
		return Entry{}, fmt.Errorf("%w: unknown flags %08b", ErrCorruptFrame, flags)
	}

	appendTime := int64(binary.BigEndian.Uint64(payload[pos:]))
	pos += appendTimeSize

	keyLen := uint64(binary.BigEndian.Uint32(payload[pos:]))
	pos += keyLenSize
	if keyLen > uint64(len(payload)-pos) {
		return Entry{}, fmt.Errorf("%w: key length %d out of bounds", ErrCorruptFrame, keyLen)
	}
	entry := Entry{
		Key:        string(payload[pos : pos+int(keyLen)]),
		AppendTime: appendTime,
	}
	pos += int(keyLen)

	if flags&flagHasValue == 0 {
		if pos != len(payload) {
			return Entry{}, fmt.Errorf("%w: tombstone with %d trailing bytes", ErrCorruptFrame, len(payload)-pos)
		}
		return entry, nil
	}

	if len(payload)-pos < valueLenSize {
		return Entry{}, fmt.Errorf("%w: missing value length", ErrCorruptFrame)
	}
	valueLen := uint64(binary.BigEndian.Uint32(payload[pos:]))
	pos += valueLenSize
	if valueLen != uint64(len(payload)-pos) {
		return Entry{}, fmt.Errorf("%w: value length %d does not match payload", ErrCorruptFrame, valueLen)
	}

	entry.Value = payload[pos:]
	entry.HasValue = true
	return entry, nil
}

// --------------------------------------------------------------------------
// Frame Reader
// --------------------------------------------------------------------------

// FrameReader replays frames stored back-to-back.
// Next returns io.EOF only at a frame boundary, a frame that was cut off
// returns ErrTruncatedFrame and an invalid one ErrCorruptFrame.
type FrameReader struct {
	r      *bufio.Reader
	limit  uint64 // number of bytes the reader may consume
	offset uint64 // offset of the next frame
	header [LengthPrefixSize]byte
}

// NewFrameReader creates a reader for the first limit bytes of r
func NewFrameReader(r io.Reader, limit uint64) *FrameReader {
	return &FrameReader{
		r:     bufio.NewReaderSize(io.LimitReader(r, int64(limit)), 64*1024),
		limit: limit,
	}
}

// Offset returns the end of the last frame that was read successfully
func (fr *FrameReader) Offset() uint64 {
	return fr.offset
}

// Next reads the next frame. It returns the entry together with the offset and
// the total length (length prefix included) of its frame.
func (fr *FrameReader) Next() (Entry, uint64, uint32, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Entry{}, 0, 0, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Entry{}, 0, 0, ErrTruncatedFrame
		default:
			return Entry{}, 0, 0, err
		}
	}

	size := uint64(binary.BigEndian.Uint32(fr.header[:]))
	if size > MaxPayloadSize || size < payloadHeaderSize {
		return Entry{}, 0, 0, fmt.Errorf("%w: invalid payload length %d at offset %d", ErrCorruptFrame, size, fr.offset)
	}

	// never allocate for a payload that cannot be there
	frameLen := LengthPrefixSize + size
	if fr.offset+frameLen > fr.limit {
		return Entry{}, 0, 0, ErrTruncatedFrame
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, 0, 0, ErrTruncatedFrame
		}
		return Entry{}, 0, 0, err
	}

	entry, err := decodePayload(payload)
	if err != nil {
		return Entry{}, 0, 0, fmt.Errorf("offset %d: %w", fr.offset, err)
	}

	offset := fr.offset
	fr.offset += frameLen
	return entry, offset, uint32(frameLen), nil
}
