package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lnresearch/topology/internal/metrics"
)

// ErrRecoveryFailed is returned when the HTTP recovery lookup comes back
// non-200 or with a body that doesn't parse as a policy pair.
var ErrRecoveryFailed = errors.New("recovery: HTTP lookup failed")

// DefaultTimeout bounds every outbound recovery GET.
const DefaultTimeout = 30 * time.Second

// DefaultURLTemplate is the per-channel JSON endpoint used when the
// caller does not supply a %d-style template of their own.
const DefaultURLTemplate = "https://1ml.com/channel/%d/json"

// Policy is one node's routing policy for a channel, as returned by the
// recovery endpoint.
type Policy struct {
	FeeBaseMsat      uint32 `json:"fee_base_msat"`
	FeeRateMilliMsat uint32 `json:"fee_rate_milli_msat"`
	MinHTLC          uint64 `json:"min_htlc"`
	TimeLockDelta    uint16 `json:"time_lock_delta"`
}

// valid reports whether every field required to synthesize a directional
// channel entry is present and non-zero. A zero value is treated the
// same as an absent field, fee_base_msat included.
func (p *Policy) valid() bool {
	return p != nil && p.FeeBaseMsat != 0 && p.FeeRateMilliMsat != 0 && p.MinHTLC != 0 && p.TimeLockDelta != 0
}

// PolicyPair is the JSON body returned by the recovery endpoint: one
// policy per announced node, keyed by direction.
type PolicyPair struct {
	Node1Policy *Policy `json:"node1_policy"`
	Node2Policy *Policy `json:"node2_policy"`
}

// Client fetches channel policy pairs over HTTP.
type Client struct {
	urlTemplate string
	http        *http.Client
}

// NewClient builds a Client against urlTemplate, a %d-style URL template
// keyed by the channel's 64-bit integer SCID. An empty template falls
// back to DefaultURLTemplate.
func NewClient(urlTemplate string) *Client {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return &Client{
		urlTemplate: urlTemplate,
		http:        &http.Client{Timeout: DefaultTimeout},
	}
}

// Fetch issues the recovery GET for the given integer SCID and returns the
// raw JSON body, already validated as a parseable PolicyPair.
func (c *Client) Fetch(scid uint64) (string, error) {
	url := fmt.Sprintf(c.urlTemplate, scid)

	start := time.Now()
	resp, err := c.http.Get(url)
	metrics.RecoveryHTTPDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRecoveryFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %d", ErrRecoveryFailed, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading body from %s: %v", ErrRecoveryFailed, url, err)
	}

	var pair PolicyPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return "", fmt.Errorf("%w: malformed JSON from %s: %v", ErrRecoveryFailed, url, err)
	}
	return string(body), nil
}
