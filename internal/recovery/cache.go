// Package recovery fills in (or drops) the lone surviving direction of a
// channel after pruning, backed by an on-disk CSV cache and an HTTP
// fallback.
package recovery

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
)

// ErrCacheCorrupt is returned when a cache CSV row cannot be read back.
var ErrCacheCorrupt = errors.New("recovery: malformed cache row")

// cacheRow is the on-disk shape of one cache line: "scid,policy_json".
type cacheRow struct {
	SCID   string `csv:"scid"`
	Policy string `csv:"policy"`
}

// Cache is an in-memory mirror of the CSV key-value cache mapping an
// undirected SCID to its raw JSON policy blob. It loads the whole file
// once and rewrites the complete mapping on every Persist, so entries
// cached by earlier runs survive each new fetch.
type Cache struct {
	path    string
	entries map[string]string
}

// OpenCache loads path into memory. A missing file is not an error: it
// means an empty cache, created lazily on first Persist.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]string)}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []cacheRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}
	for _, row := range rows {
		c.entries[row.SCID] = row.Policy
	}
	return c, nil
}

// Get returns the cached policy blob for an undirected SCID, if present.
func (c *Cache) Get(scid string) (string, bool) {
	v, ok := c.entries[scid]
	return v, ok
}

// Put records (or replaces) the policy blob cached for an undirected SCID.
func (c *Cache) Put(scid, policy string) {
	c.entries[scid] = policy
}

// Persist rewrites the cache file from the complete in-memory mapping.
func (c *Cache) Persist() error {
	rows := make([]cacheRow, 0, len(c.entries))
	for scid, policy := range c.entries {
		rows = append(rows, cacheRow{SCID: scid, Policy: policy})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SCID < rows[j].SCID })

	f, err := os.Create(c.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.Marshal(rows, f)
}
