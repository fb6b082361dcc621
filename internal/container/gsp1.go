package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lnresearch/topology/internal/bigsize"
	"github.com/lnresearch/topology/internal/bzip2x"
)

// gsp1Magic is the fixed 4-byte header: ASCII "GSP" followed by version 1.
var gsp1Magic = [4]byte{'G', 'S', 'P', 0x01}

// ErrBadMagic is returned when a dataset's header does not match the GSP1
// magic bytes.
var ErrBadMagic = errors.New("container: not a GSP1 dataset")

// bufferSize sizes the buffered reader wrapping the raw file handle, so a
// multi-gigabyte dataset streams through without seeking back.
const bufferSize = 64 * 1024

// GSP1Reader streams raw message byte strings out of a GSP1 dataset
// container: a 4-byte magic header followed by repeated
// (BigSize length, length bytes) records until EOF.
type GSP1Reader struct {
	r      *bufio.Reader
	offset int64
	closer io.Closer
}

// OpenGSP1 opens path as a GSP1 dataset, transparently decompressing it
// through an external bzip2 process if the name ends in ".bz2".
func OpenGSP1(path string) (*GSP1Reader, error) {
	var rdr io.ReadCloser
	if strings.HasSuffix(path, ".bz2") {
		r, err := bzip2x.NewReader(path)
		if err != nil {
			return nil, err
		}
		rdr = r
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		rdr = f
	}
	return NewGSP1Reader(rdr)
}

// NewGSP1Reader wraps an already-open stream, validating the GSP1 header.
func NewGSP1Reader(rdr io.ReadCloser) (*GSP1Reader, error) {
	br := bufio.NewReaderSize(rdr, bufferSize)
	var hdr [4]byte
	n, err := io.ReadFull(br, hdr[:])
	if err != nil {
		rdr.Close()
		return nil, fmt.Errorf("container: reading GSP1 header: %w", err)
	}
	if n != 4 || hdr != gsp1Magic {
		rdr.Close()
		return nil, ErrBadMagic
	}
	return &GSP1Reader{r: br, offset: 4, closer: rdr}, nil
}

// Next reads and returns the next message. It returns io.EOF once the
// stream ends cleanly on a record boundary. A short read mid-record is a
// fatal decode error carrying the byte offset it occurred at.
func (g *GSP1Reader) Next() ([]byte, error) {
	length, err := bigsize.Read(g.r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("container: decoding record length at offset %d: %w", g.offset, err)
	}
	g.offset += int64(len(bigsize.Encode(length)))
	msg := make([]byte, length)
	n, err := io.ReadFull(g.r, msg)
	g.offset += int64(n)
	if err != nil {
		return nil, fmt.Errorf("container: short read at offset %d: expected %d bytes, got %d: %w",
			g.offset, length, n, err)
	}
	return msg, nil
}

// Close releases the underlying file (and any bzip2 subprocess pipe).
func (g *GSP1Reader) Close() error {
	return g.closer.Close()
}
