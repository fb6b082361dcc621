// Package gossip decodes the three Lightning gossip message types this
// system cares about: channel_announcement, channel_update and
// node_announcement. Field layout follows BOLT #7. Decoding does not
// validate or retain the signature fields that precede the payload, but
// still has to walk past them to reach the fields it does keep.
package gossip

import (
	"encoding/binary"
	"errors"

	"github.com/lnresearch/topology/internal/lnaddr"
)

// Message type numbers, per BOLT #7.
const (
	TypeChannelAnnouncement uint16 = 0x0100
	TypeNodeAnnouncement    uint16 = 0x0101
	TypeChannelUpdate       uint16 = 0x0102
)

// ErrTruncated is returned when a message ends before all declared fields
// could be read.
var ErrTruncated = errors.New("gossip: truncated message")

// ErrUnhandledType is returned by ParseMessage for any message type other
// than the three this package understands. It carries no record.
var ErrUnhandledType = errors.New("gossip: unhandled message type")

// ChannelAnnouncement announces a channel between two nodes.
type ChannelAnnouncement struct {
	Features    []byte
	ChainHash   [32]byte
	SCID        SCID
	NodeIDs     [2][33]byte
	BitcoinKeys [2][33]byte
}

// ChannelUpdate carries routing policy for one direction of a channel.
type ChannelUpdate struct {
	ChainHash                 [32]byte
	SCID                      SCID
	Timestamp                 uint32
	MessageFlags              uint8
	ChannelFlags              uint8
	CLTVExpiryDelta           uint16
	HTLCMinimumMsat           uint64
	FeeBaseMsat               uint32
	FeeProportionalMillionths uint32
	HTLCMaximumMsat           *uint64 // nil iff absent
}

// Direction returns the direction bit this update applies to.
func (u *ChannelUpdate) Direction() uint8 {
	return u.ChannelFlags & 0x01
}

// NodeAnnouncement carries a node's metadata and known addresses.
type NodeAnnouncement struct {
	Features  []byte
	Timestamp uint32
	NodeID    [33]byte
	RGBColor  [3]byte
	Alias     [32]byte
	Addresses []string
}

// Kind identifies which variant a Record holds.
type Kind int

// Record kinds.
const (
	KindChannelAnnouncement Kind = iota
	KindChannelUpdate
	KindNodeAnnouncement
)

// Record is a tagged union over the three decoded message variants. Exactly
// one of the pointer fields matching Kind is non-nil; the three variants
// share no common attributes, so a tagged union is the natural shape here
// rather than a single flattened struct.
type Record struct {
	Kind                Kind
	ChannelAnnouncement *ChannelAnnouncement
	ChannelUpdate       *ChannelUpdate
	NodeAnnouncement    *NodeAnnouncement
}

// cursor reads sequential fields from a byte slice, reporting ErrTruncated
// instead of panicking when a read runs past the end.
type cursor struct {
	buf []byte
}

func (c *cursor) take(n int) ([]byte, error) {
	if len(c.buf) < n {
		return nil, ErrTruncated
	}
	b := c.buf[:n]
	c.buf = c.buf[n:]
	return b, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// lenPrefixed reads a u16-length-prefixed byte string.
func (c *cursor) lenPrefixed() ([]byte, error) {
	n, err := c.u16()
	if err != nil {
		return nil, err
	}
	return c.take(int(n))
}

// ParseMessage decodes a full message byte string. The first two bytes are
// the big-endian message type. Types other than channel_announcement,
// node_announcement and channel_update yield (nil, ErrUnhandledType): the
// message was well-formed, it is simply not one this system decodes.
func ParseMessage(raw []byte) (*Record, error) {
	c := cursor{buf: raw}
	typ, err := c.u16()
	if err != nil {
		return nil, ErrTruncated
	}

	switch typ {
	case TypeChannelAnnouncement:
		return parseChannelAnnouncement(&c)
	case TypeNodeAnnouncement:
		return parseNodeAnnouncement(&c)
	case TypeChannelUpdate:
		return parseChannelUpdate(&c)
	default:
		return nil, ErrUnhandledType
	}
}

func parseChannelAnnouncement(c *cursor) (*Record, error) {
	// Four BOLT #7 signatures precede the payload; this system never
	// verifies them, so they are skipped rather than retained.
	if _, err := c.take(64 * 4); err != nil {
		return nil, err
	}
	features, err := c.lenPrefixed()
	if err != nil {
		return nil, err
	}
	chainHash, err := c.take(32)
	if err != nil {
		return nil, err
	}
	scidRaw, err := c.u64()
	if err != nil {
		return nil, err
	}
	var nodeIDs [2][33]byte
	for i := range nodeIDs {
		b, err := c.take(33)
		if err != nil {
			return nil, err
		}
		copy(nodeIDs[i][:], b)
	}
	var bitcoinKeys [2][33]byte
	for i := range bitcoinKeys {
		b, err := c.take(33)
		if err != nil {
			return nil, err
		}
		copy(bitcoinKeys[i][:], b)
	}

	ca := &ChannelAnnouncement{
		Features:    append([]byte(nil), features...),
		SCID:        SCID(scidRaw),
		NodeIDs:     nodeIDs,
		BitcoinKeys: bitcoinKeys,
	}
	copy(ca.ChainHash[:], chainHash)
	return &Record{Kind: KindChannelAnnouncement, ChannelAnnouncement: ca}, nil
}

func parseNodeAnnouncement(c *cursor) (*Record, error) {
	if _, err := c.take(64); err != nil { // signature
		return nil, err
	}
	features, err := c.lenPrefixed()
	if err != nil {
		return nil, err
	}
	timestamp, err := c.u32()
	if err != nil {
		return nil, err
	}
	nodeID, err := c.take(33)
	if err != nil {
		return nil, err
	}
	rgb, err := c.take(3)
	if err != nil {
		return nil, err
	}
	alias, err := c.take(32)
	if err != nil {
		return nil, err
	}
	region, err := c.lenPrefixed()
	if err != nil {
		return nil, err
	}

	na := &NodeAnnouncement{
		Features:  append([]byte(nil), features...),
		Timestamp: timestamp,
	}
	copy(na.NodeID[:], nodeID)
	copy(na.RGBColor[:], rgb)
	copy(na.Alias[:], alias)

	// An unknown address type stops parsing for this record's address
	// list without failing the whole message: addresses decoded up to
	// that point are kept. A short region is treated the same way.
	addrs, _ := lnaddr.Decode(region)
	na.Addresses = addrs

	return &Record{Kind: KindNodeAnnouncement, NodeAnnouncement: na}, nil
}

func parseChannelUpdate(c *cursor) (*Record, error) {
	if _, err := c.take(64); err != nil { // signature
		return nil, err
	}
	chainHash, err := c.take(32)
	if err != nil {
		return nil, err
	}
	scidRaw, err := c.u64()
	if err != nil {
		return nil, err
	}
	timestamp, err := c.u32()
	if err != nil {
		return nil, err
	}
	messageFlags, err := c.u8()
	if err != nil {
		return nil, err
	}
	channelFlags, err := c.u8()
	if err != nil {
		return nil, err
	}
	cltv, err := c.u16()
	if err != nil {
		return nil, err
	}
	htlcMin, err := c.u64()
	if err != nil {
		return nil, err
	}
	feeBase, err := c.u32()
	if err != nil {
		return nil, err
	}
	feePropMillionths, err := c.u32()
	if err != nil {
		return nil, err
	}

	cu := &ChannelUpdate{
		SCID:                      SCID(scidRaw),
		Timestamp:                 timestamp,
		MessageFlags:              messageFlags,
		ChannelFlags:              channelFlags,
		CLTVExpiryDelta:           cltv,
		HTLCMinimumMsat:           htlcMin,
		FeeBaseMsat:               feeBase,
		FeeProportionalMillionths: feePropMillionths,
	}
	copy(cu.ChainHash[:], chainHash)

	if messageFlags&0x01 != 0 {
		htlcMax, err := c.u64()
		if err != nil {
			return nil, err
		}
		cu.HTLCMaximumMsat = &htlcMax
	}

	return &Record{Kind: KindChannelUpdate, ChannelUpdate: cu}, nil
}
