// Command timemachine is the CLI boundary over the gossip replay engine:
// `restore` reconstructs a topology snapshot at a target timestamp,
// `nodes trace` streams records touching one node id, and
// `messages parse` decodes a single hex-encoded gossip message.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/araddon/dateparse"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/lnresearch/topology/internal/container"
	"github.com/lnresearch/topology/internal/export"
	"github.com/lnresearch/topology/internal/gossip"
	"github.com/lnresearch/topology/internal/recovery"
	"github.com/lnresearch/topology/internal/replay"
	"github.com/lnresearch/topology/internal/trace"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// logFatalf allows tests to intercept a fatal usage error instead of
// killing the test binary.
var logFatalf = log.Fatalf

func main() {
	if len(os.Args) < 2 {
		logFatalf("usage: timemachine <restore|nodes|messages> ...")
		return
	}

	switch os.Args[1] {
	case "restore":
		runRestore(os.Args[2:])
	case "nodes":
		if len(os.Args) < 3 || os.Args[2] != "trace" {
			logFatalf("usage: timemachine nodes trace <node_id_hex> <gossip_store_path>")
			return
		}
		runNodesTrace(os.Args[3:])
	case "messages":
		if len(os.Args) < 3 || os.Args[2] != "parse" {
			logFatalf("usage: timemachine messages parse <hex>")
			return
		}
		runMessagesParse(os.Args[3:])
	default:
		logFatalf("unknown command %q", os.Args[1])
	}
}

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	format := fs.String("fmt", export.FormatJSON, "output format: dot|gml|graphml|json")
	fixMissing := fs.String("fix-missing", "", "how to handle channels with only one surviving direction: recover|filter (default: leave as-is)")
	cachePath := fs.String("cache", "./data/channels_cache.csv", "path to the edge-recovery CSV cache")
	recoveryURL := fs.String("recovery-url", "", "recovery HTTP endpoint, a %d-style URL template keyed by the integer SCID")
	promAddr := fs.String("prom", "", "Prometheus metrics export address (empty disables)")
	strict := fs.Bool("strict", true, "abort on an orphan channel_update instead of logging and skipping it")
	fs.Parse(args)
	flagx.ArgsFromEnv(fs)

	if fs.NArg() < 1 {
		logFatalf("usage: timemachine restore <dataset> [timestamp]")
		return
	}

	target := time.Now()
	if fs.NArg() > 1 {
		t, err := dateparse.ParseAny(fs.Arg(1))
		rtx.Must(err, "could not parse timestamp %q", fs.Arg(1))
		target = t
	}

	if *promAddr != "" {
		srv := prometheusx.MustStartPrometheus(*promAddr)
		defer srv.Shutdown(context.Background())
	}

	snap, removed, err := restore(fs.Arg(0), target, *strict, recovery.Mode(*fixMissing), *cachePath, *recoveryURL)
	if errors.Is(err, replay.ErrEmptySnapshot) {
		log.Println(err)
		os.Exit(1)
	}
	rtx.Must(err, "replay failed")

	rtx.Must(export.Write(os.Stdout, snap, *format), "could not export snapshot")
	if removed > 0 {
		log.Printf("edge recovery: removed %d channel(s) that could not be recovered", removed)
	}
}

// restore drives the full GSP1 -> parse -> reduce -> (optional recover)
// -> snapshot pipeline over a single dataset file.
func restore(datasetPath string, target time.Time, strict bool, fixMissing recovery.Mode, cachePath, recoveryURL string) (*replay.Snapshot, int, error) {
	raw, err := container.OpenGSP1(datasetPath)
	if err != nil {
		return nil, 0, err
	}
	defer raw.Close()

	mr := container.NewMessageReader(raw)
	reducer := replay.NewReducer(target)
	reducer.SetStrict(strict)
	for {
		rec, err := mr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, err
		}
		if err := reducer.Apply(rec); err != nil {
			return nil, 0, err
		}
	}
	reducer.Prune()

	removed := 0
	if fixMissing != "" {
		cache, err := recovery.OpenCache(cachePath)
		if err != nil {
			return nil, 0, err
		}
		client := recovery.NewClient(recoveryURL)
		removed, err = recovery.Run(reducer, fixMissing, cache, client)
		if err != nil {
			return nil, 0, err
		}
	}

	snap, err := reducer.Finalize()
	if err != nil {
		return nil, removed, err
	}
	return snap, removed, nil
}

func runNodesTrace(args []string) {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	fs.Parse(args)
	flagx.ArgsFromEnv(fs)

	if fs.NArg() != 2 {
		logFatalf("usage: timemachine nodes trace <node_id_hex> <gossip_store_path>")
		return
	}

	var nodeID [33]byte
	idBytes, err := hex.DecodeString(fs.Arg(0))
	rtx.Must(err, "invalid node id hex %q", fs.Arg(0))
	if len(idBytes) != len(nodeID) {
		logFatalf("node id must be %d bytes, got %d", len(nodeID), len(idBytes))
		return
	}
	copy(nodeID[:], idBytes)

	raw, err := container.OpenGossipStore(fs.Arg(1))
	rtx.Must(err, "could not open gossip_store %q", fs.Arg(1))
	defer raw.Close()

	filter := trace.NewFilter(raw, nodeID)
	enc := json.NewEncoder(os.Stdout)
	rtx.Must(trace.Drain(filter, func(rec *gossip.Record) error {
		return enc.Encode(rec)
	}), "trace failed")
}

func runMessagesParse(args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	fs.Parse(args)
	flagx.ArgsFromEnv(fs)

	if fs.NArg() != 1 {
		logFatalf("usage: timemachine messages parse <hex>")
		return
	}

	raw, err := hex.DecodeString(fs.Arg(0))
	rtx.Must(err, "invalid hex %q", fs.Arg(0))

	rec, err := gossip.ParseMessage(raw)
	if errors.Is(err, gossip.ErrUnhandledType) {
		return // unhandled type: print nothing
	}
	rtx.Must(err, "could not parse message")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	rtx.Must(enc.Encode(rec), "could not encode record")
}
