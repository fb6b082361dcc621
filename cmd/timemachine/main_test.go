package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lnresearch/topology/internal/bigsize"
	"github.com/lnresearch/topology/internal/gossip"
	"github.com/lnresearch/topology/internal/recovery"
	"github.com/lnresearch/topology/internal/replay"
)

func channelAnnouncementMsg(scid gossip.SCID, a, b [33]byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, gossip.TypeChannelAnnouncement)
	buf.Write(make([]byte, 64*4))
	binary.Write(buf, binary.BigEndian, uint16(0))
	buf.Write(make([]byte, 32))
	binary.Write(buf, binary.BigEndian, uint64(scid))
	buf.Write(a[:])
	buf.Write(b[:])
	buf.Write(make([]byte, 33))
	buf.Write(make([]byte, 33))
	return buf.Bytes()
}

func channelUpdateMsg(scid gossip.SCID, ts uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, gossip.TypeChannelUpdate)
	buf.Write(make([]byte, 64))
	buf.Write(make([]byte, 32))
	binary.Write(buf, binary.BigEndian, uint64(scid))
	binary.Write(buf, binary.BigEndian, ts)
	buf.WriteByte(0)
	buf.WriteByte(0)
	binary.Write(buf, binary.BigEndian, uint16(40))
	binary.Write(buf, binary.BigEndian, uint64(1))
	binary.Write(buf, binary.BigEndian, uint32(1))
	binary.Write(buf, binary.BigEndian, uint32(10))
	return buf.Bytes()
}

func writeGSP1(t *testing.T, path string, msgs ...[]byte) {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.WriteString("GSP")
	buf.WriteByte(0x01)
	for _, m := range msgs {
		buf.Write(bigsize.Encode(uint64(len(m))))
		buf.Write(m)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRestoreHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/dataset.gsp1"
	scid := gossip.NewSCID(1, 0, 0)
	a := [33]byte{0xAA}
	b := [33]byte{0xBB}
	writeGSP1(t, path,
		channelAnnouncementMsg(scid, a, b),
		channelUpdateMsg(scid, 1000),
	)

	snap, removed, err := restore(path, time.Unix(1000, 0), true, "", "", "")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected no recovery pass without --fix-missing, got removed=%d", removed)
	}
	if len(snap.Channels) != 1 {
		t.Fatalf("expected 1 surviving channel, got %d", len(snap.Channels))
	}
}

func TestRestoreFixMissingFilter(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/dataset.gsp1"
	scid := gossip.NewSCID(1, 0, 0)
	a := [33]byte{0xAA}
	b := [33]byte{0xBB}
	// Only direction 0 gets an update; direction 1 never does and is
	// pruned, leaving an unmatched channel for recovery to act on.
	writeGSP1(t, path,
		channelAnnouncementMsg(scid, a, b),
		channelUpdateMsg(scid, 1000),
	)

	target := time.Unix(14*24*3600+1000, 0)
	_, removed, err := restore(path, target, true, recovery.ModeFilter, dir+"/cache.csv", "")
	// The only channel in the dataset had its lone surviving direction
	// filtered out by recovery, so no channels remain: ErrEmptySnapshot.
	if !errors.Is(err, replay.ErrEmptySnapshot) {
		t.Fatalf("expected ErrEmptySnapshot, got %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 channel removed by the filter policy, got %d", removed)
	}
}

func TestRunMessagesParseUnhandledTypePrintsNothing(t *testing.T) {
	// Type 0x00FF is not one of the three decoded gossip messages.
	runMessagesParse([]string{"00ff0000"})
}
