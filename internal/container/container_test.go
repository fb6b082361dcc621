package container

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/lnresearch/topology/internal/bigsize"
)

type closeBuf struct {
	*bytes.Reader
}

func (closeBuf) Close() error { return nil }

func buildGSP1(messages ...[]byte) []byte {
	buf := new(bytes.Buffer)
	buf.Write(gsp1Magic[:])
	for _, m := range messages {
		buf.Write(bigsize.Encode(uint64(len(m))))
		buf.Write(m)
	}
	return buf.Bytes()
}

func TestGSP1ReaderHappyPath(t *testing.T) {
	msgs := [][]byte{{0x01, 0x00, 0xAA}, {0x01, 0x02, 0xBB, 0xCC}}
	data := buildGSP1(msgs...)
	r, err := NewGSP1Reader(closeBuf{bytes.NewReader(data)})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range msgs {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("message %d: got %x want %x", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestGSP1ReaderBadMagic(t *testing.T) {
	_, err := NewGSP1Reader(closeBuf{bytes.NewReader([]byte("nope"))})
	if err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestGSP1ReaderShortRecord(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write(gsp1Magic[:])
	buf.Write(bigsize.Encode(10))
	buf.Write([]byte{1, 2, 3}) // fewer than 10 bytes promised
	r, err := NewGSP1Reader(closeBuf{bytes.NewReader(buf.Bytes())})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err == nil {
		t.Fatal("expected a short-read error")
	}
}

func TestGossipStoreReaderStripsInternalPrefix(t *testing.T) {
	inner := []byte{0xDE, 0xAD}
	// Internal record: 2-byte type (4096) + 2 prefix bytes + inner payload.
	full := make([]byte, 4+len(inner))
	binary.BigEndian.PutUint16(full, 4096)
	copy(full[4:], inner)

	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(full)))

	buf := new(bytes.Buffer)
	buf.WriteByte(1) // version <= 3
	buf.Write(hdr)
	buf.Write(full)

	r, err := NewGossipStoreReader(closeBuf{bytes.NewReader(buf.Bytes())})
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, inner) {
		t.Fatalf("got %x want %x", got, inner)
	}
}

func TestGossipStoreReaderMasksFlags(t *testing.T) {
	body := []byte{0x01, 0x00, 0xAA, 0xBB}
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(body))|0x80000000|0x40000000)
	binary.BigEndian.PutUint32(hdr[4:8], 0)

	buf := new(bytes.Buffer)
	buf.WriteByte(1)
	buf.Write(hdr)
	buf.Write(body)

	r, err := NewGossipStoreReader(closeBuf{bytes.NewReader(buf.Bytes())})
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %x want %x", got, body)
	}
}

func TestGossipStoreReaderVersionGreaterThan3(t *testing.T) {
	body := []byte{0x01, 0x02, 0x01, 0x02, 0x03}
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(body)))

	buf := new(bytes.Buffer)
	buf.WriteByte(4) // version > 3
	buf.Write(hdr)
	buf.Write(make([]byte, 4)) // second crc
	buf.Write(body)

	r, err := NewGossipStoreReader(closeBuf{bytes.NewReader(buf.Bytes())})
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %x want %x", got, body)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
