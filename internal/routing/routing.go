// Package routing implements the immutable routing-table snapshot: the
// namespace-prefix → ordered dictionary list, the id → meta index, and
// copy-on-write publication.
package routing

import (
	"fmt"
	"sort"
	"time"

	"github.com/momentumcache/mcz/internal/dictpool"
	"github.com/momentumcache/mcz/internal/manifest"
)

// DefaultNamespace is the distinguished prefix consulted when no other
// namespace prefix matches a key.
const DefaultNamespace = "default"

// Meta describes one trained dictionary. It is exclusively owned by the
// Table whose meta array holds it; its compiled handles are borrowed
// (non-owning) from the pool and must never be freed directly — only the
// pool destroys them, at the 1→0 refcount transition.
type Meta struct {
	ID           uint16
	BlobPath     string
	ManifestPath string
	CreatedAt    time.Time
	RetiredAt    time.Time // zero means active
	Level        int
	DictSize     int
	Prefixes     []string
	Signature    string
	Handles      *dictpool.CompiledHandles
}

// Retired reports whether this meta has been stamped retired.
func (m *Meta) Retired() bool { return !m.RetiredAt.IsZero() }

// NamespaceEntry pairs one namespace prefix with its ordered dictionary
// list, newest first. Position 0 is the active dictionary for that
// prefix; positions beyond it are retained only so existing stored items
// can still be decompressed.
type NamespaceEntry struct {
	Prefix string
	Metas  []*Meta // newest first
}

// Table is an immutable routing-table snapshot. Readers always load it
// with acquire ordering (via atomic.Pointer) and operate on the snapshot
// they observed; a table is never mutated after Build returns it.
type Table struct {
	namespaces []NamespaceEntry
	byID       map[uint16]*Meta
	BuiltAt    time.Time
	Gen        uint64
}

// Empty returns the zero-generation table used before any dictionary has
// ever been trained.
func Empty() *Table {
	return &Table{byID: make(map[uint16]*Meta), BuiltAt: time.Now(), Gen: 0}
}

// Build constructs a new table from a flat list of metas (as produced by
// manifest.Scan, translated into Metas with pool handles already
// attached), grouping them into namespace entries and truncating each to
// retainMax. gen is the new table's generation number (old.Gen + 1).
func Build(metas []*Meta, retainMax int, gen uint64) (*Table, error) {
	if retainMax <= 0 {
		return nil, fmt.Errorf("routing: retainMax must be positive, got %d", retainMax)
	}

	grouped := make(map[string][]*Meta)
	var order []string
	for _, m := range metas {
		for _, prefix := range m.Prefixes {
			if _, ok := grouped[prefix]; !ok {
				order = append(order, prefix)
			}
			grouped[prefix] = append(grouped[prefix], m)
		}
	}

	namespaces := make([]NamespaceEntry, 0, len(order))
	for _, prefix := range order {
		list := grouped[prefix]
		sort.SliceStable(list, func(i, j int) bool {
			// Active (RetiredAt zero) sorts first; otherwise newest
			// created first. Position 0 must be the active dictionary.
			if list[i].Retired() != list[j].Retired() {
				return !list[i].Retired()
			}
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
		if len(list) > retainMax {
			list = list[:retainMax]
		}
		namespaces = append(namespaces, NamespaceEntry{Prefix: prefix, Metas: list})
	}

	byID := make(map[uint16]*Meta, len(metas))
	for _, m := range metas {
		// Newest wins on id reuse: since callers only ever reuse an id
		// after manifest.Scan's quarantine filter has dropped every
		// older occupant, this only matters for the degenerate case of a
		// caller feeding Build a list with genuine duplicates.
		if existing, ok := byID[m.ID]; !ok || m.CreatedAt.After(existing.CreatedAt) {
			byID[m.ID] = m
		}
	}

	return &Table{namespaces: namespaces, byID: byID, BuiltAt: time.Now(), Gen: gen}, nil
}

// PickByKey performs a longest-prefix match of key against namespace
// prefixes, returning position 0 of the matched entry. Ties of equal
// prefix length favor a real match over "default"; otherwise first
// inserted wins. Falls back to "default" if no prefix matches, and to nil
// if there is no default either.
func (t *Table) PickByKey(key string) *Meta {
	var best *NamespaceEntry
	for i := range t.namespaces {
		ns := &t.namespaces[i]
		if ns.Prefix == DefaultNamespace {
			continue
		}
		if len(key) >= len(ns.Prefix) && key[:len(ns.Prefix)] == ns.Prefix {
			if best == nil || len(ns.Prefix) > len(best.Prefix) {
				best = ns
			}
		}
	}
	if best != nil && len(best.Metas) > 0 {
		return best.Metas[0]
	}
	return t.defaultMeta()
}

func (t *Table) defaultMeta() *Meta {
	for i := range t.namespaces {
		if t.namespaces[i].Prefix == DefaultNamespace && len(t.namespaces[i].Metas) > 0 {
			return t.namespaces[i].Metas[0]
		}
	}
	return nil
}

// HasDefault reports whether this table has an active "default" meta.
func (t *Table) HasDefault() bool { return t.defaultMeta() != nil }

// DefaultMeta returns the active "default" namespace's position-0 meta,
// or nil if there isn't one — the dictionary a fresh train supersedes.
func (t *Table) DefaultMeta() *Meta { return t.defaultMeta() }

// LookupByID returns the meta for id, active or retired, in O(1).
func (t *Table) LookupByID(id uint16) (*Meta, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// NextAvailableID returns the lowest id in [1, 65535] not currently
// occupied in this table. Because manifest.Scan already excludes
// dictionaries retired longer ago than the quarantine period before a
// table is ever Built, "not occupied in this table" is exactly "safe to
// reuse without a stored item binding to the wrong dictionary".
func (t *Table) NextAvailableID() (uint16, error) {
	for id := 1; id <= 65535; id++ {
		if _, ok := t.byID[uint16(id)]; !ok {
			return uint16(id), nil
		}
	}
	return 0, fmt.Errorf("routing: dictionary id space exhausted")
}

// Namespaces returns the table's namespace entries, for diagnostics.
func (t *Table) Namespaces() []NamespaceEntry { return t.namespaces }

// AllMetas returns every meta held by this table, active or retired.
func (t *Table) AllMetas() []*Meta {
	out := make([]*Meta, 0, len(t.byID))
	for _, m := range t.byID {
		out = append(out, m)
	}
	return out
}

// FromManifestRecords adapts freshly-scanned manifest.Records into Metas,
// retaining each signature's compiled handles through pool. On any
// failure, handles already retained for prior records are released and
// the partial result is discarded, leaving the caller's current table
// untouched.
func FromManifestRecords(records []manifest.Record, pool interface {
	Retain(signature, blobPath string, level int) (*dictpool.CompiledHandles, error)
	Release(signature string) int32
}) ([]*Meta, error) {
	metas := make([]*Meta, 0, len(records))
	for _, rec := range records {
		handles, err := pool.Retain(rec.Signature, rec.DictPath, rec.Level)
		if err != nil {
			for _, m := range metas {
				pool.Release(m.Signature)
			}
			return nil, fmt.Errorf("routing: attach %s: %w", rec.Signature, err)
		}
		metas = append(metas, &Meta{
			ID:           rec.ID,
			BlobPath:     rec.DictPath,
			ManifestPath: rec.ManifestPath,
			CreatedAt:    rec.CreatedAt,
			RetiredAt:    rec.RetiredAt,
			Level:        rec.Level,
			DictSize:     rec.DictSize,
			Prefixes:     rec.Prefixes,
			Signature:    rec.Signature,
			Handles:      handles,
		})
	}
	return metas, nil
}
