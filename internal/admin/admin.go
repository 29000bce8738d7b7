// Package admin renders the collaborator admin surface spec.md §6
// describes: namespace listing, per-namespace/global stat snapshots,
// configuration dump, and standalone-sampler start/stop/status, each in
// either line-oriented text or compact JSON.
package admin

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/momentumcache/mcz/internal/sampler"
	"github.com/momentumcache/mcz/internal/stats"
)

// Format selects the rendering the caller wants back.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// RenderNamespaces lists every known namespace, "global" first.
func RenderNamespaces(names []string, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.Marshal(names)
	}
	return []byte(strings.Join(names, "\n") + "\n"), nil
}

// RenderStats renders one or more namespace snapshots.
func RenderStats(snapshots []stats.Snapshot, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.Marshal(snapshots)
	}

	var b strings.Builder
	for _, s := range snapshots {
		fmt.Fprintf(&b, "namespace=%s raw_bytes_in=%d compressed_bytes=%d reads=%d writes=%d "+
			"compress_errs=%d decompress_errs=%d dict_miss_errs=%d "+
			"skip_too_small=%d skip_too_large=%d skip_incompressible=%d",
			s.Namespace, s.RawBytesIn, s.CompressedBytes, s.Reads, s.Writes,
			s.CompressErrs, s.DecompressErrs, s.DictMissErrs,
			s.SkipTooSmall, s.SkipTooLarge, s.SkipIncompressible)
		if s.Namespace == stats.DefaultNamespace {
			fmt.Fprintf(&b, " ewma=%.6f baseline=%.6f", s.EWMA, s.Baseline)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// RenderConfig renders an arbitrary configuration value (the caller
// passes mcz.Config by value). JSON uses encoding/json directly; text
// walks the struct's exported fields via reflection, one "key: value"
// line each, sorted for stable output.
func RenderConfig(cfg interface{}, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(cfg, "", "  ")
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("admin: render config: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("admin: render config: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, fields[k])
	}
	return []byte(b.String()), nil
}

// SamplerStart starts the standalone spool writer and reports its
// idempotent status string.
func SamplerStart(sp *sampler.Spool, now time.Time) string {
	status, err := sp.Start(now)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return status
}

// SamplerStop stops the standalone spool writer.
func SamplerStop(sp *sampler.Spool) string {
	status, err := sp.Stop()
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return status
}

// SamplerStatus reports the spool's current status string.
func SamplerStatus(sp *sampler.Spool) string {
	return sp.Status()
}

// Reload triggers a manual rescan of dict_dir through the caller-supplied
// function (the Engine's rescan), for an operator who pushed a
// dictionary out of band and doesn't want to wait on fsnotify.
func Reload(rescan func() error) string {
	if err := rescan(); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return "reloaded"
}
