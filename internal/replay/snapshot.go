// Package replay folds a stream of decoded gossip records into a topology
// snapshot as it stood at a chosen timestamp, enforcing the liveness,
// monotonicity and direction-pairing invariants described by the dataset.
package replay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/lnresearch/topology/internal/gossip"
	"github.com/lnresearch/topology/internal/metrics"
)

// livenessWindow is how long a channel_update keeps its channel "alive":
// two weeks, matching implicit Lightning gossip expiry.
const livenessWindow = 14 * 24 * time.Hour

var warnEvery = logx.NewLogEvery(nil, time.Second)

// ChannelState is the reducer's view of one directional channel key.
type ChannelState struct {
	Source      string // hex node id
	Destination string // hex node id
	Features    []byte
	Timestamp   uint32

	HasPolicy                 bool // true once a channel_update has applied
	FeeBaseMsat               uint32
	FeeProportionalMillionths uint32
	HTLCMinimumMsat           uint64
	HTLCMaximumMsat           *uint64
	CLTVExpiryDelta           uint16
}

// NodeState is the reducer's view of one node.
type NodeState struct {
	ID        string
	Timestamp uint32
	Features  []byte
	RGBColor  [3]byte
	Alias     []byte
	Addresses []string
	InDegree  int
	OutDegree int
}

// Snapshot is the immutable result of a replay: the nodes and channels
// considered alive at the target timestamp.
type Snapshot struct {
	Channels map[string]*ChannelState // DirectionalChannelKey -> state
	Nodes    map[string]*NodeState    // hex(node id) -> state
}

// OrphanUpdateError is returned when a channel_update's SCID has no prior
// channel_announcement in the stream: a malformed or reordered dataset.
type OrphanUpdateError struct {
	SCID gossip.SCID
}

func (e *OrphanUpdateError) Error() string {
	return fmt.Sprintf("replay: channel_update for unknown channel %s", e.SCID)
}

// ErrEmptySnapshot is returned when no channels survive pruning: the
// caller picked a timestamp outside the dataset's coverage.
var ErrEmptySnapshot = errorString("replay: no channels survived pruning; choose a timestamp within the dataset's coverage")

type errorString string

func (e errorString) Error() string { return string(e) }

func hexID(id [33]byte) string {
	return hex.EncodeToString(id[:])
}

// Source yields decoded gossip records in stream order. It is satisfied by
// container.MessageReader and by any in-memory slice-backed iterator used
// in tests.
type Source interface {
	Next() (*gossip.Record, error)
}

// Reducer accumulates replay state and yields a Snapshot at a chosen
// target timestamp.
type Reducer struct {
	target time.Time
	cutoff uint32

	channels map[string]*ChannelState
	nodes    map[string]*NodeState

	// strict controls whether an orphan update aborts the replay (true,
	// the default) or is logged and skipped (false).
	strict bool
}

// NewReducer creates a Reducer for the given target wall-clock time. If
// target is the zero value, time.Now() is used.
func NewReducer(target time.Time) *Reducer {
	if target.IsZero() {
		target = time.Now()
	}
	cutoffUnix := target.Add(-livenessWindow).Unix()
	var cutoff uint32
	if cutoffUnix > 0 {
		cutoff = uint32(cutoffUnix)
	}
	return &Reducer{
		target:   target,
		cutoff:   cutoff,
		channels: make(map[string]*ChannelState),
		nodes:    make(map[string]*NodeState),
		strict:   true,
	}
}

// SetStrict controls orphan-update handling: true (the default) makes an
// orphan update a fatal error; false logs and skips it.
func (r *Reducer) SetStrict(strict bool) { r.strict = strict }

// Channels exposes the reducer's live directional-channel-key map so the
// edge-recovery stage can mutate it between Prune and Finalize.
func (r *Reducer) Channels() map[string]*ChannelState { return r.channels }

// Nodes exposes the reducer's live node map so the edge-recovery stage can
// adjust degrees as it fills in or drops directional entries.
func (r *Reducer) Nodes() map[string]*NodeState { return r.nodes }

// Apply folds a single decoded record into the reducer's state.
func (r *Reducer) Apply(rec *gossip.Record) error {
	switch rec.Kind {
	case gossip.KindChannelAnnouncement:
		r.applyChannelAnnouncement(rec.ChannelAnnouncement)
		metrics.RecordsDecodedTotal.WithLabelValues("channel_announcement").Inc()
	case gossip.KindChannelUpdate:
		err := r.applyChannelUpdate(rec.ChannelUpdate)
		metrics.RecordsDecodedTotal.WithLabelValues("channel_update").Inc()
		return err
	case gossip.KindNodeAnnouncement:
		r.applyNodeAnnouncement(rec.NodeAnnouncement)
		metrics.RecordsDecodedTotal.WithLabelValues("node_announcement").Inc()
	}
	return nil
}

func (r *Reducer) applyChannelAnnouncement(ca *gossip.ChannelAnnouncement) {
	a := hexID(ca.NodeIDs[0])
	b := hexID(ca.NodeIDs[1])
	features := append([]byte(nil), ca.Features...)

	r.channels[gossip.DirectionalKey(ca.SCID, 0)] = &ChannelState{
		Source:      a,
		Destination: b,
		Features:    features,
	}
	r.channels[gossip.DirectionalKey(ca.SCID, 1)] = &ChannelState{
		Source:      b,
		Destination: a,
		Features:    features,
	}
}

func (r *Reducer) applyChannelUpdate(cu *gossip.ChannelUpdate) error {
	ts := cu.Timestamp
	if uint64(ts) > uint64(r.target.Unix()) {
		metrics.RecordsSkippedTotal.WithLabelValues("future_update").Inc()
		return nil // future update
	}
	if ts < r.cutoff {
		metrics.RecordsSkippedTotal.WithLabelValues("before_cutoff").Inc()
		return nil // cannot possibly keep the channel alive
	}

	key := gossip.DirectionalKey(cu.SCID, cu.Direction())
	ch, ok := r.channels[key]
	if !ok {
		if r.strict {
			return &OrphanUpdateError{SCID: cu.SCID}
		}
		warnEvery.Println("replay: skipping", (&OrphanUpdateError{SCID: cu.SCID}).Error())
		metrics.RecordsSkippedTotal.WithLabelValues("orphan_update").Inc()
		return nil
	}
	if ch.Timestamp > ts {
		metrics.RecordsSkippedTotal.WithLabelValues("stale_update").Inc()
		return nil // stale
	}

	ch.Timestamp = ts
	ch.HasPolicy = true
	ch.FeeBaseMsat = cu.FeeBaseMsat
	ch.FeeProportionalMillionths = cu.FeeProportionalMillionths
	ch.HTLCMinimumMsat = cu.HTLCMinimumMsat
	ch.CLTVExpiryDelta = cu.CLTVExpiryDelta
	if cu.HTLCMaximumMsat != nil {
		ch.HTLCMaximumMsat = cu.HTLCMaximumMsat
	}
	return nil
}

func (r *Reducer) applyNodeAnnouncement(na *gossip.NodeAnnouncement) {
	id := hexID(na.NodeID)
	if existing, ok := r.nodes[id]; ok && existing.Timestamp > na.Timestamp {
		return // stale
	}

	var in, out int
	if existing, ok := r.nodes[id]; ok {
		in, out = existing.InDegree, existing.OutDegree
	}

	alias := stripNuls(na.Alias[:])
	r.nodes[id] = &NodeState{
		ID:        id,
		Timestamp: na.Timestamp,
		Features:  append([]byte(nil), na.Features...),
		RGBColor:  na.RGBColor,
		Alias:     alias,
		Addresses: append([]string(nil), na.Addresses...),
		InDegree:  in,
		OutDegree: out,
	}
}

func stripNuls(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c != 0 {
			out = append(out, c)
		}
	}
	return out
}

// AddressCSV renders a node's decoded addresses the way the snapshot
// exporter expects: comma-joined.
func (n *NodeState) AddressCSV() string {
	return strings.Join(n.Addresses, ",")
}

// Prune deletes channels that fell silent before the cutoff and tallies
// in/out degree for the nodes on either end of every surviving channel.
// It is a separate step from Finalize so that edge recovery can run in
// between: that pass needs the post-prune, pre-node-filtering state to
// fill in or drop unmatched directional entries and adjust degrees itself.
func (r *Reducer) Prune() {
	for key, ch := range r.channels {
		// A direction that never received an update has no liveness
		// signal at all; it is dead no matter where the cutoff lands.
		if !ch.HasPolicy || ch.Timestamp < r.cutoff {
			delete(r.channels, key)
			continue
		}
		if src, ok := r.nodes[ch.Source]; ok {
			src.OutDegree++
		}
		if dst, ok := r.nodes[ch.Destination]; ok {
			dst.InDegree++
		}
	}
}

// Finalize drops degree-zero nodes and returns the Snapshot, or
// ErrEmptySnapshot if no channels remain. Call it after Prune (and, if
// used, after edge recovery has had a chance to mutate Channels/Nodes).
func (r *Reducer) Finalize() (*Snapshot, error) {
	for id, n := range r.nodes {
		if n.InDegree == 0 && n.OutDegree == 0 {
			delete(r.nodes, id)
		}
	}

	if len(r.channels) == 0 {
		return nil, ErrEmptySnapshot
	}

	metrics.SnapshotChannelCount.Observe(float64(len(r.channels)))
	metrics.SnapshotNodeCount.Observe(float64(len(r.nodes)))
	return &Snapshot{Channels: r.channels, Nodes: r.nodes}, nil
}

// Finish runs Prune followed by Finalize with no edge recovery in
// between: the path used by callers that leave unmatched directions
// as they are.
func (r *Reducer) Finish() (*Snapshot, error) {
	r.Prune()
	return r.Finalize()
}

// Replay drains src, applying each record to a fresh Reducer targeting
// target, and returns the resulting Snapshot. It performs no edge
// recovery; callers that want it should drive a Reducer directly via
// Apply/Prune/Finalize with internal/recovery spliced in between.
func Replay(src Source, target time.Time, strict bool) (*Snapshot, error) {
	start := time.Now()
	r := NewReducer(target)
	r.SetStrict(strict)
	for {
		rec, err := src.Next()
		if err != nil {
			if isEOF(err) {
				break
			}
			return nil, err
		}
		if err := r.Apply(rec); err != nil {
			return nil, err
		}
	}
	snap, err := r.Finish()
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	return snap, err
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
