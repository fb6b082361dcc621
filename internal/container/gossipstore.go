package container

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	deletedFlag   uint32 = 0x80000000
	importantFlag uint32 = 0x40000000
	lengthMask    uint32 = ^(deletedFlag | importantFlag)
)

// Internal padding/checkpoint record types carried by gossip_store versions
// <= 3, outside the gossip type space this system decodes.
const (
	internalTypeMin uint16 = 4096
	internalTypeMax uint16 = 4098
)

// GossipStoreReader streams raw message byte strings out of a gossip_store
// container: a 1-byte version header followed by repeated
// (u32 length_and_flags, u32 crc, [version>3: u32 crc2], length bytes)
// records.
type GossipStoreReader struct {
	r       *bufio.Reader
	version uint8
	offset  int64
	closer  io.Closer
}

// OpenGossipStore opens path as a gossip_store container.
func OpenGossipStore(path string) (*GossipStoreReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewGossipStoreReader(f)
}

// NewGossipStoreReader wraps an already-open stream, reading the version
// header.
func NewGossipStoreReader(rdr io.ReadCloser) (*GossipStoreReader, error) {
	br := bufio.NewReaderSize(rdr, bufferSize)
	var vbuf [1]byte
	if _, err := io.ReadFull(br, vbuf[:]); err != nil {
		rdr.Close()
		return nil, fmt.Errorf("container: reading gossip_store version: %w", err)
	}
	return &GossipStoreReader{r: br, version: vbuf[0], offset: 1, closer: rdr}, nil
}

// Version returns the container's version byte.
func (g *GossipStoreReader) Version() uint8 { return g.version }

// Next reads and returns the next message, masking out the deleted/important
// flag bits from the record length and stripping the 4-byte internal
// prefix carried by padding/checkpoint records in version <= 3 stores. EOF
// at a record boundary ends iteration cleanly.
func (g *GossipStoreReader) Next() ([]byte, error) {
	var hdr [8]byte
	n, err := io.ReadFull(g.r, hdr[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("container: short read of gossip_store record header at offset %d: %w", g.offset, err)
	}
	g.offset += int64(n)

	lengthAndFlags := binary.BigEndian.Uint32(hdr[0:4])
	length := lengthAndFlags & lengthMask

	if g.version > 3 {
		var crc2 [4]byte
		n2, err := io.ReadFull(g.r, crc2[:])
		g.offset += int64(n2)
		if err != nil {
			return nil, fmt.Errorf("container: short read of second CRC at offset %d: %w", g.offset, err)
		}
	}

	msg := make([]byte, length)
	n3, err := io.ReadFull(g.r, msg)
	g.offset += int64(n3)
	if err != nil {
		return nil, fmt.Errorf("container: short read of record body at offset %d: expected %d bytes, got %d: %w",
			g.offset, length, n3, err)
	}

	if g.version <= 3 && len(msg) >= 2 {
		typ := binary.BigEndian.Uint16(msg[:2])
		if typ >= internalTypeMin && typ <= internalTypeMax {
			if len(msg) < 4 {
				return nil, fmt.Errorf("container: internal record too short to strip prefix at offset %d", g.offset)
			}
			msg = msg[4:]
		}
	}

	return msg, nil
}

// Close releases the underlying file.
func (g *GossipStoreReader) Close() error {
	return g.closer.Close()
}
