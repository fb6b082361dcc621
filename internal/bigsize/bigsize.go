// Package bigsize decodes and encodes Lightning's BigSize variable-length
// integer, used to frame records inside the GSP1 dataset container.
package bigsize

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrTruncated is returned when the stream ends in the middle of a
// multi-byte BigSize value. A clean EOF on the leading byte is reported
// as io.EOF instead, since that marks the end of a well-formed stream.
var ErrTruncated = errors.New("bigsize: truncated varint")

// Read decodes the next BigSize value from r. If the stream is exhausted
// before the leading byte can be read, it returns io.EOF to signal that
// there are no more records. Any other short read is ErrTruncated.
func Read(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			// A clean EOF here means the stream ended on a record boundary.
			return 0, io.EOF
		}
		return 0, err
	}

	switch p := prefix[0]; {
	case p < 0xFD:
		return uint64(p), nil
	case p == 0xFD:
		return readWidth(r, 2)
	case p == 0xFE:
		return readWidth(r, 4)
	default: // 0xFF
		return readWidth(r, 8)
	}
}

func readWidth(r io.Reader, width int) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:width]); err != nil {
		return 0, ErrTruncated
	}
	switch width {
	case 2:
		return uint64(binary.BigEndian.Uint16(buf[:2])), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(buf[:4])), nil
	default:
		return binary.BigEndian.Uint64(buf[:8]), nil
	}
}

// Encode returns the BigSize wire encoding of n.
func Encode(n uint64) []byte {
	switch {
	case n < 0xFD:
		return []byte{byte(n)}
	case n <= 0xFFFF:
		buf := make([]byte, 3)
		buf[0] = 0xFD
		binary.BigEndian.PutUint16(buf[1:], uint16(n))
		return buf
	case n <= 0xFFFFFFFF:
		buf := make([]byte, 5)
		buf[0] = 0xFE
		binary.BigEndian.PutUint32(buf[1:], uint32(n))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = 0xFF
		binary.BigEndian.PutUint64(buf[1:], n)
		return buf
	}
}
