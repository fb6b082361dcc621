// Package export renders a replay.Snapshot as DOT, GML, GraphML or a JSON
// adjacency representation. The replay engine's job stops at producing a
// Snapshot, so this package stays a thin, direct writer rather than
// pulling in a full graph-modeling library.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/lnresearch/topology/internal/replay"
)

// Format names accepted by the --fmt flag.
const (
	FormatDOT     = "dot"
	FormatGML     = "gml"
	FormatGraphML = "graphml"
	FormatJSON    = "json"
)

// Write renders snap in the named format to w. An unrecognized format
// name is a caller error.
func Write(w io.Writer, snap *replay.Snapshot, format string) error {
	bw := bufio.NewWriter(w)
	var err error
	switch format {
	case FormatDOT:
		err = writeDOT(bw, snap)
	case FormatGML:
		err = writeGML(bw, snap)
	case FormatGraphML:
		err = writeGraphML(bw, snap)
	case FormatJSON:
		err = writeJSON(bw, snap)
	default:
		return fmt.Errorf("export: unknown format %q", format)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// sortedChannelKeys returns snap's channel keys in a deterministic order
// so repeated exports of the same snapshot are byte-identical.
func sortedChannelKeys(snap *replay.Snapshot) []string {
	keys := make([]string, 0, len(snap.Channels))
	for k := range snap.Channels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNodeIDs(snap *replay.Snapshot) []string {
	ids := make([]string, 0, len(snap.Nodes))
	for id := range snap.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func writeDOT(w io.Writer, snap *replay.Snapshot) error {
	if _, err := fmt.Fprintln(w, "digraph lightning {"); err != nil {
		return err
	}
	for _, id := range sortedNodeIDs(snap) {
		n := snap.Nodes[id]
		alias := dotEscape(decodeUTF8Lossy(n.Alias))
		if _, err := fmt.Fprintf(w, "  %q [alias=%q];\n", id, alias); err != nil {
			return err
		}
	}
	for _, key := range sortedChannelKeys(snap) {
		ch := snap.Channels[key]
		if _, err := fmt.Fprintf(w, "  %q -> %q [scid=%q, fee_base_msat=%d, fee_proportional_millionths=%d];\n",
			ch.Source, ch.Destination, key, ch.FeeBaseMsat, ch.FeeProportionalMillionths); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func writeGML(w io.Writer, snap *replay.Snapshot) error {
	if _, err := fmt.Fprintln(w, "graph ["); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "  directed 1"); err != nil {
		return err
	}

	index := make(map[string]int, len(snap.Nodes))
	for i, id := range sortedNodeIDs(snap) {
		index[id] = i
		n := snap.Nodes[id]
		alias := gmlEscape(decodeASCIILossy(n.Alias))
		if _, err := fmt.Fprintf(w, "  node [ id %d label %q alias %q ]\n", i, id, alias); err != nil {
			return err
		}
	}
	for _, key := range sortedChannelKeys(snap) {
		ch := snap.Channels[key]
		src, srcOK := index[ch.Source]
		dst, dstOK := index[ch.Destination]
		if !srcOK || !dstOK {
			continue // endpoint never announced itself; no node to reference
		}
		if _, err := fmt.Fprintf(w, "  edge [ source %d target %d scid %q fee_base_msat %d ]\n",
			src, dst, key, ch.FeeBaseMsat); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "]")
	return err
}

func gmlEscape(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

func writeGraphML(w io.Writer, snap *replay.Snapshot) error {
	if _, err := fmt.Fprintln(w, `<?xml version="1.0" encoding="UTF-8"?>`); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, `<graphml xmlns="http://graphml.graphdrawing.org/xmlns">`); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, `  <key id="alias" for="node" attr.name="alias" attr.type="string"/>`); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, `  <key id="fee_base_msat" for="edge" attr.name="fee_base_msat" attr.type="long"/>`); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, `  <graph id="lightning" edgedefault="directed">`); err != nil {
		return err
	}

	for _, id := range sortedNodeIDs(snap) {
		n := snap.Nodes[id]
		alias := xmlEscape(decodeASCIILossy(n.Alias))
		if _, err := fmt.Fprintf(w, "    <node id=%q><data key=\"alias\">%s</data></node>\n", id, alias); err != nil {
			return err
		}
	}
	for _, key := range sortedChannelKeys(snap) {
		ch := snap.Channels[key]
		if _, err := fmt.Fprintf(w, "    <edge id=%q source=%q target=%q><data key=\"fee_base_msat\">%d</data></edge>\n",
			key, ch.Source, ch.Destination, ch.FeeBaseMsat); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, "  </graph>"); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "</graphml>")
	return err
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// jsonNode and jsonChannel give the JSON adjacency export stable field
// names independent of replay's internal struct layout.
type jsonNode struct {
	ID        string `json:"id"`
	Timestamp uint32 `json:"timestamp"`
	Alias     string `json:"alias"`
	RGBColor  string `json:"rgb_color"`
	Addresses string `json:"addresses"`
	InDegree  int    `json:"in_degree"`
	OutDegree int    `json:"out_degree"`
}

type jsonChannel struct {
	SCID                      string  `json:"scid"`
	Direction                 int     `json:"direction"`
	Source                    string  `json:"source"`
	Destination               string  `json:"destination"`
	Timestamp                 uint32  `json:"timestamp"`
	FeeBaseMsat               uint32  `json:"fee_base_msat"`
	FeeProportionalMillionths uint32  `json:"fee_proportional_millionths"`
	HTLCMinimumMsat           uint64  `json:"htlc_minimum_msat"`
	HTLCMaximumMsat           *uint64 `json:"htlc_maximum_msat,omitempty"`
	CLTVExpiryDelta           uint16  `json:"cltv_expiry_delta"`
}

type jsonSnapshot struct {
	Nodes    []jsonNode    `json:"nodes"`
	Channels []jsonChannel `json:"channels"`
}

func writeJSON(w io.Writer, snap *replay.Snapshot) error {
	out := jsonSnapshot{
		Nodes:    make([]jsonNode, 0, len(snap.Nodes)),
		Channels: make([]jsonChannel, 0, len(snap.Channels)),
	}
	for _, id := range sortedNodeIDs(snap) {
		n := snap.Nodes[id]
		out.Nodes = append(out.Nodes, jsonNode{
			ID:        id,
			Timestamp: n.Timestamp,
			Alias:     decodeUTF8Lossy(n.Alias),
			RGBColor:  fmt.Sprintf("%02x%02x%02x", n.RGBColor[0], n.RGBColor[1], n.RGBColor[2]),
			Addresses: n.AddressCSV(),
			InDegree:  n.InDegree,
			OutDegree: n.OutDegree,
		})
	}
	for _, key := range sortedChannelKeys(snap) {
		ch := snap.Channels[key]
		scid, dir := splitKey(key)
		out.Channels = append(out.Channels, jsonChannel{
			SCID:                      scid,
			Direction:                 dir,
			Source:                    ch.Source,
			Destination:               ch.Destination,
			Timestamp:                 ch.Timestamp,
			FeeBaseMsat:               ch.FeeBaseMsat,
			FeeProportionalMillionths: ch.FeeProportionalMillionths,
			HTLCMinimumMsat:           ch.HTLCMinimumMsat,
			HTLCMaximumMsat:           ch.HTLCMaximumMsat,
			CLTVExpiryDelta:           ch.CLTVExpiryDelta,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func splitKey(key string) (string, int) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return key, 0
	}
	dir, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return key, 0
	}
	return key[:i], dir
}

// decodeUTF8Lossy decodes an already NUL-stripped alias as UTF-8,
// dropping invalid sequences. DOT and JSON output can carry the full
// UTF-8 range.
func decodeUTF8Lossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}

// decodeASCIILossy does the same but restricts output to the ASCII range,
// for the GML/GraphML formats whose character sets are more constrained.
func decodeASCIILossy(b []byte) string {
	out := make([]rune, 0, len(b))
	for _, r := range string(b) {
		if r <= unicode.MaxASCII && unicode.IsPrint(r) {
			out = append(out, r)
		}
	}
	return string(out)
}
