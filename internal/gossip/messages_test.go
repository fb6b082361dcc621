package gossip

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-test/deep"
)

func buildChannelAnnouncement(features []byte, chainHash [32]byte, scid SCID, n1, n2, b1, b2 [33]byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, TypeChannelAnnouncement)
	buf.Write(make([]byte, 64*4))
	binary.Write(buf, binary.BigEndian, uint16(len(features)))
	buf.Write(features)
	buf.Write(chainHash[:])
	binary.Write(buf, binary.BigEndian, uint64(scid))
	buf.Write(n1[:])
	buf.Write(n2[:])
	buf.Write(b1[:])
	buf.Write(b2[:])
	return buf.Bytes()
}

func TestParseChannelAnnouncement(t *testing.T) {
	var chainHash [32]byte
	chainHash[0] = 0xAA
	var n1, n2, b1, b2 [33]byte
	n1[0] = 1
	n2[0] = 2
	b1[0] = 3
	b2[0] = 4
	scid := NewSCID(100, 1, 0)
	raw := buildChannelAnnouncement([]byte{0x01, 0x02}, chainHash, scid, n1, n2, b1, b2)

	rec, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if rec.Kind != KindChannelAnnouncement {
		t.Fatalf("wrong kind: %v", rec.Kind)
	}
	ca := rec.ChannelAnnouncement
	want := &ChannelAnnouncement{
		Features:    []byte{0x01, 0x02},
		ChainHash:   chainHash,
		SCID:        scid,
		NodeIDs:     [2][33]byte{n1, n2},
		BitcoinKeys: [2][33]byte{b1, b2},
	}
	if diff := deep.Equal(ca, want); diff != nil {
		t.Error(diff)
	}
}

func buildChannelUpdate(chainHash [32]byte, scid SCID, ts uint32, msgFlags, chanFlags uint8, cltv uint16,
	htlcMin uint64, feeBase, feeProp uint32, htlcMax *uint64) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, TypeChannelUpdate)
	buf.Write(make([]byte, 64))
	buf.Write(chainHash[:])
	binary.Write(buf, binary.BigEndian, uint64(scid))
	binary.Write(buf, binary.BigEndian, ts)
	buf.WriteByte(msgFlags)
	buf.WriteByte(chanFlags)
	binary.Write(buf, binary.BigEndian, cltv)
	binary.Write(buf, binary.BigEndian, htlcMin)
	binary.Write(buf, binary.BigEndian, feeBase)
	binary.Write(buf, binary.BigEndian, feeProp)
	if htlcMax != nil {
		binary.Write(buf, binary.BigEndian, *htlcMax)
	}
	return buf.Bytes()
}

func TestParseChannelUpdateWithMax(t *testing.T) {
	var chainHash [32]byte
	scid := NewSCID(100, 1, 0)
	max := uint64(21000000)
	raw := buildChannelUpdate(chainHash, scid, 1000, 0x01, 0x00, 40, 1, 10, 1, &max)

	rec, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	cu := rec.ChannelUpdate
	if cu.HTLCMaximumMsat == nil || *cu.HTLCMaximumMsat != max {
		t.Fatalf("htlc max not decoded: %+v", cu)
	}
	if cu.Direction() != 0 {
		t.Fatalf("direction: %d", cu.Direction())
	}
}

func TestParseChannelUpdateWithoutMax(t *testing.T) {
	var chainHash [32]byte
	scid := NewSCID(100, 1, 0)
	raw := buildChannelUpdate(chainHash, scid, 1000, 0x00, 0x01, 40, 1, 10, 1, nil)

	rec, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	cu := rec.ChannelUpdate
	if cu.HTLCMaximumMsat != nil {
		t.Fatalf("expected nil htlc max, got %v", *cu.HTLCMaximumMsat)
	}
	if cu.Direction() != 1 {
		t.Fatalf("direction: %d", cu.Direction())
	}
}

func TestParseUnhandledType(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xFF}
	_, err := ParseMessage(raw)
	if err != ErrUnhandledType {
		t.Fatalf("expected ErrUnhandledType, got %v", err)
	}
}

func TestParseTruncated(t *testing.T) {
	raw := []byte{0x01, 0x00, 0x00} // channel_announcement type but nothing else
	_, err := ParseMessage(raw)
	if err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestParseNodeAnnouncementUnknownAddressType(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, TypeNodeAnnouncement)
	buf.Write(make([]byte, 64))                 // signature
	binary.Write(buf, binary.BigEndian, uint16(0)) // empty features
	binary.Write(buf, binary.BigEndian, uint32(1234))
	buf.Write(make([]byte, 33)) // node id
	buf.Write(make([]byte, 3))  // rgb
	buf.Write(make([]byte, 32)) // alias

	region := []byte{1, 127, 0, 0, 1, 0, 80, 0xFF, 1, 2, 3}
	binary.Write(buf, binary.BigEndian, uint16(len(region)))
	buf.Write(region)

	rec, err := ParseMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	na := rec.NodeAnnouncement
	if len(na.Addresses) != 1 || na.Addresses[0] != "127.0.0.1:80" {
		t.Fatalf("addresses: %v", na.Addresses)
	}
}
