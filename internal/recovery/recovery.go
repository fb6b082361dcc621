package recovery

import (
	"encoding/json"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/lnresearch/topology/internal/gossip"
	"github.com/lnresearch/topology/internal/metrics"
	"github.com/lnresearch/topology/internal/replay"
)

// Mode selects how an unmatched directional channel is handled.
type Mode string

// Recovery modes.
const (
	ModeFilter  Mode = "filter"
	ModeRecover Mode = "recover"
)

var warnEvery = logx.NewLogEvery(nil, time.Second)

// unmatched describes one SCID that survived pruning with only one of its
// two directional entries present.
type unmatched struct {
	scid        string
	missingDir  uint8
	presentKey  string
	presentChan *replay.ChannelState
}

// Run scans rd's channel map (called after Reducer.Prune, before
// Reducer.Finalize) for SCIDs with only one surviving directional entry
// and applies mode to each. It returns the number of channels ultimately
// removed (filtered, or unrecoverable).
func Run(rd *replay.Reducer, mode Mode, cache *Cache, client *Client) (int, error) {
	channels := rd.Channels()
	nodes := rd.Nodes()

	removed := 0
	for _, m := range findUnmatched(channels) {
		switch mode {
		case ModeFilter:
			removeDirectional(channels, nodes, m.presentKey, m.presentChan)
			metrics.RecoveryTotal.WithLabelValues("filtered").Inc()
			removed++
		case ModeRecover:
			if recoverOne(channels, nodes, m, cache, client) {
				continue
			}
			removeDirectional(channels, nodes, m.presentKey, m.presentChan)
			metrics.RecoveryTotal.WithLabelValues("failed").Inc()
			removed++
		default:
			return removed, &UnknownModeError{Mode: mode}
		}
	}
	return removed, nil
}

// UnknownModeError is returned by Run for any Mode other than the two
// defined above.
type UnknownModeError struct{ Mode Mode }

func (e *UnknownModeError) Error() string {
	return "recovery: unknown mode " + strconv.Quote(string(e.Mode))
}

// findUnmatched walks the channel map once, grouping directional keys by
// SCID, and returns every SCID for which exactly one of /0 or /1 survived.
func findUnmatched(channels map[string]*replay.ChannelState) []unmatched {
	present := make(map[string][2]bool, len(channels)/2)
	for key := range channels {
		scid, dir, ok := splitKey(key)
		if !ok {
			continue
		}
		p := present[scid]
		p[dir] = true
		present[scid] = p
	}

	scids := make([]string, 0, len(present))
	for scid := range present {
		scids = append(scids, scid)
	}
	sort.Strings(scids) // deterministic iteration order for callers/tests

	var out []unmatched
	for _, scid := range scids {
		p := present[scid]
		switch {
		case p[0] && !p[1]:
			key := scid + "/0"
			out = append(out, unmatched{scid: scid, missingDir: 1, presentKey: key, presentChan: channels[key]})
		case p[1] && !p[0]:
			key := scid + "/1"
			out = append(out, unmatched{scid: scid, missingDir: 0, presentKey: key, presentChan: channels[key]})
		}
	}
	return out
}

func splitKey(key string) (scid string, dir uint8, ok bool) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 || i == len(key)-1 {
		return "", 0, false
	}
	switch key[i+1:] {
	case "0":
		return key[:i], 0, true
	case "1":
		return key[:i], 1, true
	default:
		return "", 0, false
	}
}

// recoverOne attempts to synthesize the missing directional entry for one
// unmatched SCID via the cache, falling back to the HTTP client on a
// cache miss. It reports whether recovery succeeded.
func recoverOne(channels map[string]*replay.ChannelState, nodes map[string]*replay.NodeState, m unmatched, cache *Cache, client *Client) bool {
	blob, hit := cache.Get(m.scid)
	if hit {
		metrics.RecoveryTotal.WithLabelValues("cache_hit").Inc()
	} else {
		scidInt, err := gossip.ParseSCID(m.scid)
		if err != nil {
			warnEvery.Println("recovery: cannot parse scid", m.scid, err)
			return false
		}
		fetched, err := client.Fetch(uint64(scidInt))
		if err != nil {
			warnEvery.Println("recovery:", err)
			return false
		}
		blob = fetched
		cache.Put(m.scid, blob)
		if err := cache.Persist(); err != nil {
			log.Println("recovery: could not persist cache:", err)
		}
		metrics.RecoveryTotal.WithLabelValues("http_recovered").Inc()
	}

	var pair PolicyPair
	if err := json.Unmarshal([]byte(blob), &pair); err != nil {
		warnEvery.Println("recovery: malformed cached policy for", m.scid, err)
		return false
	}

	// The policy that applies is for the *absent* direction: if /0 (node1
	// -> node2) is present and /1 is missing, the missing direction's
	// endpoints are node2 -> node1, governed by node2's own policy.
	var policy *Policy
	if m.missingDir == 0 {
		policy = pair.Node1Policy
	} else {
		policy = pair.Node2Policy
	}
	if !policy.valid() {
		return false
	}

	missingKey := m.scid + "/" + strconv.Itoa(int(m.missingDir))
	synth := &replay.ChannelState{
		Source:                    m.presentChan.Destination,
		Destination:               m.presentChan.Source,
		Features:                  m.presentChan.Features,
		Timestamp:                 m.presentChan.Timestamp,
		HasPolicy:                 true,
		FeeBaseMsat:               policy.FeeBaseMsat,
		FeeProportionalMillionths: policy.FeeRateMilliMsat,
		HTLCMinimumMsat:           policy.MinHTLC,
		CLTVExpiryDelta:           policy.TimeLockDelta,
	}
	channels[missingKey] = synth
	if src, ok := nodes[synth.Source]; ok {
		src.OutDegree++
	}
	if dst, ok := nodes[synth.Destination]; ok {
		dst.InDegree++
	}
	return true
}

// removeDirectional deletes a channel's lone surviving directional entry
// and undoes the degree increments Reducer.Prune already applied for it.
func removeDirectional(channels map[string]*replay.ChannelState, nodes map[string]*replay.NodeState, key string, ch *replay.ChannelState) {
	delete(channels, key)
	if src, ok := nodes[ch.Source]; ok {
		src.OutDegree--
	}
	if dst, ok := nodes[ch.Destination]; ok {
		dst.InDegree--
	}
}
