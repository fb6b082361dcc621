package gossip

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedSCID is returned when a textual short channel id cannot be
// parsed back into its block/tx/output components.
var ErrMalformedSCID = errors.New("gossip: malformed short channel id")

// SCID is a short channel id: block height, transaction index within the
// block, and output index, packed into a single 64-bit integer.
type SCID uint64

// NewSCID packs the block/tx/output triple into a SCID.
func NewSCID(block, tx, output uint64) SCID {
	return SCID(block<<40 | tx<<16 | output)
}

// Block returns the block-height component.
func (s SCID) Block() uint64 { return uint64(s) >> 40 }

// TxIndex returns the transaction-index component.
func (s SCID) TxIndex() uint64 { return (uint64(s) >> 16) & 0xFFFFFF }

// OutputIndex returns the output-index component.
func (s SCID) OutputIndex() uint64 { return uint64(s) & 0xFFFF }

// String renders the SCID in its canonical "<block>x<tx>x<output>" form.
func (s SCID) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Block(), s.TxIndex(), s.OutputIndex())
}

// ParseSCID parses the canonical textual form back into a SCID.
func ParseSCID(s string) (SCID, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return 0, ErrMalformedSCID
	}
	nums := make([]uint64, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return 0, ErrMalformedSCID
		}
		nums[i] = n
	}
	return NewSCID(nums[0], nums[1], nums[2]), nil
}

// DirectionalKey renders the mapping key used by the replay reducer:
// "<scid>/<direction>".
func DirectionalKey(scid SCID, direction uint8) string {
	return fmt.Sprintf("%s/%d", scid, direction)
}
