// Package container implements the two streaming dataset containers this
// system replays: the GSP1 dataset container and the gossip_store
// container used by c-lightning nodes. Both expose the same lazy,
// forward-only RawReader interface; decoding into typed gossip records is
// layered on top via MessageReader.
package container

import (
	"github.com/lnresearch/topology/internal/gossip"
	"github.com/lnresearch/topology/internal/metrics"
)

// RawReader yields raw, undecoded message byte strings in stream order.
// Next returns io.EOF once the container is exhausted.
type RawReader interface {
	Next() ([]byte, error)
}

// MessageReader decodes a RawReader's byte strings into gossip.Record
// values, silently skipping any message whose type this system does not
// understand. Unhandled types never reach the reducer.
type MessageReader struct {
	raw RawReader
}

// NewMessageReader wraps a RawReader with gossip message decoding.
func NewMessageReader(raw RawReader) *MessageReader {
	return &MessageReader{raw: raw}
}

// Next returns the next decoded record, skipping past any raw messages of
// an unhandled type. It returns io.EOF when the underlying container is
// exhausted.
func (m *MessageReader) Next() (*gossip.Record, error) {
	for {
		raw, err := m.raw.Next()
		if err != nil {
			return nil, err
		}
		rec, err := gossip.ParseMessage(raw)
		if err == gossip.ErrUnhandledType {
			metrics.RecordsSkippedTotal.WithLabelValues("unhandled_type").Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}
