// Package trace streams only the gossip records that touch a given node
// id, emitted in stream order.
package trace

import (
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/lnresearch/topology/internal/container"
	"github.com/lnresearch/topology/internal/gossip"
	"github.com/lnresearch/topology/internal/metrics"
)

var warnEvery = logx.NewLogEvery(nil, time.Second)

// Filter streams decoded records touching a single node id out of a raw
// container reader, tracking the set of channel SCIDs that node
// participates in so that channel_update records for those channels are
// also emitted.
type Filter struct {
	raw    container.RawReader
	nodeID string // hex-encoded target node id

	scids map[gossip.SCID]struct{}
}

// NewFilter builds a Filter over raw, matching records against nodeID (33
// raw bytes).
func NewFilter(raw container.RawReader, nodeID [33]byte) *Filter {
	return &Filter{
		raw:    raw,
		nodeID: hex.EncodeToString(nodeID[:]),
		scids:  make(map[gossip.SCID]struct{}),
	}
}

// Next returns the next matching record, skipping non-matching and
// malformed ones. It returns io.EOF once the underlying container is
// exhausted.
func (f *Filter) Next() (*gossip.Record, error) {
	for {
		raw, err := f.raw.Next()
		if err != nil {
			return nil, err
		}

		rec, err := gossip.ParseMessage(raw)
		if errors.Is(err, gossip.ErrUnhandledType) {
			continue
		}
		if err != nil {
			warnEvery.Println("trace: skipping malformed record:", err)
			continue
		}

		if match, kind := f.matches(rec); match {
			metrics.TraceMatchesTotal.WithLabelValues(kind).Inc()
			return rec, nil
		}
	}
}

// matches reports whether rec touches the target node, updating the
// tracked SCID set for channel_announcement records along the way.
func (f *Filter) matches(rec *gossip.Record) (bool, string) {
	switch rec.Kind {
	case gossip.KindChannelAnnouncement:
		ca := rec.ChannelAnnouncement
		if f.hexID(ca.NodeIDs[0]) == f.nodeID || f.hexID(ca.NodeIDs[1]) == f.nodeID {
			f.scids[ca.SCID] = struct{}{}
			return true, "channel_announcement"
		}
		return false, ""
	case gossip.KindChannelUpdate:
		_, ok := f.scids[rec.ChannelUpdate.SCID]
		return ok, "channel_update"
	case gossip.KindNodeAnnouncement:
		return f.hexID(rec.NodeAnnouncement.NodeID) == f.nodeID, "node_announcement"
	default:
		return false, ""
	}
}

func (f *Filter) hexID(id [33]byte) string {
	return hex.EncodeToString(id[:])
}

// Drain runs fn for every matching record in f until EOF, stopping and
// returning any non-EOF error fn or the underlying reader produces.
func Drain(f *Filter, fn func(*gossip.Record) error) error {
	for {
		rec, err := f.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
