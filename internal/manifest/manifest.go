// Package manifest implements the on-disk layout for trained dictionaries:
// an opaque "<uuid>.dict" blob plus a "<uuid>.mf" sidecar text manifest,
// written with the durable-replace pattern (temp sibling, fsync, rename,
// fsync parent directory) so a crash mid-write never corrupts the prior
// state.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// zeroTimeToken is written in place of a zero retirement timestamp.
const zeroTimeToken = "-"

// Record is the parsed contents of one sidecar manifest file, plus the
// paths it and its blob live at.
type Record struct {
	ID           uint16
	DictPath     string
	ManifestPath string
	CreatedAt    time.Time
	RetiredAt    time.Time // zero Time means active
	Level        int
	Prefixes     []string
	Signature    string
	DictSize     int
}

// Write persists dict under dir as a new <uuid>.dict + <uuid>.mf pair and
// returns the populated Record. id, level, prefixes, signature and the
// created timestamp describe the dictionary being written; retiredAt is
// always zero for a freshly trained dictionary.
func Write(dir string, id uint16, level int, prefixes []string, signature string, dict []byte, createdAt time.Time) (Record, error) {
	stem := uuid.NewString()
	dictPath := filepath.Join(dir, stem+".dict")
	mfPath := filepath.Join(dir, stem+".mf")

	rec := Record{
		ID:           id,
		DictPath:     dictPath,
		ManifestPath: mfPath,
		CreatedAt:    createdAt,
		Level:        level,
		Prefixes:     prefixes,
		Signature:    signature,
		DictSize:     len(dict),
	}

	if err := durableReplace(dictPath, dict); err != nil {
		return Record{}, fmt.Errorf("manifest: write blob: %w", err)
	}
	if err := durableReplace(mfPath, serialize(rec)); err != nil {
		return Record{}, fmt.Errorf("manifest: write sidecar: %w", err)
	}
	return rec, nil
}

// Retire rewrites rec's sidecar manifest with a non-zero RetiredAt,
// durably, and returns the updated Record.
func Retire(rec Record, retiredAt time.Time) (Record, error) {
	rec.RetiredAt = retiredAt
	if err := durableReplace(rec.ManifestPath, serialize(rec)); err != nil {
		return Record{}, fmt.Errorf("manifest: retire: %w", err)
	}
	return rec, nil
}

// durableReplace writes data to a temporary sibling of path, fsyncs it,
// renames it over path, then fsyncs the parent directory so the rename is
// itself durable. A failed half-write always leaves the prior file intact.
func durableReplace(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dirFile.Close()
	return dirFile.Sync()
}

func serialize(rec Record) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "dict_path: %s\n", rec.DictPath)
	fmt.Fprintf(&b, "created_at: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.RetiredAt.IsZero() {
		fmt.Fprintf(&b, "retired_at: %s\n", zeroTimeToken)
	} else {
		fmt.Fprintf(&b, "retired_at: %s\n", rec.RetiredAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "level: %d\n", rec.Level)
	fmt.Fprintf(&b, "prefixes: %s\n", strings.Join(rec.Prefixes, ","))
	fmt.Fprintf(&b, "signature: %s\n", rec.Signature)
	fmt.Fprintf(&b, "dict_size: %d\n", rec.DictSize)
	fmt.Fprintf(&b, "id: %d\n", rec.ID)
	return []byte(b.String())
}

func parse(path string, data []byte) (Record, error) {
	rec := Record{ManifestPath: path}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		switch key {
		case "dict_path":
			rec.DictPath = val
		case "created_at":
			t, err := time.Parse(time.RFC3339, val)
			if err != nil {
				return Record{}, fmt.Errorf("manifest: parse created_at: %w", err)
			}
			rec.CreatedAt = t.UTC()
		case "retired_at":
			if val == zeroTimeToken || val == "" {
				rec.RetiredAt = time.Time{}
			} else {
				t, err := time.Parse(time.RFC3339, val)
				if err != nil {
					return Record{}, fmt.Errorf("manifest: parse retired_at: %w", err)
				}
				rec.RetiredAt = t.UTC()
			}
		case "level":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Record{}, fmt.Errorf("manifest: parse level: %w", err)
			}
			rec.Level = n
		case "prefixes":
			if val != "" {
				rec.Prefixes = strings.Split(val, ",")
			}
		case "signature":
			rec.Signature = val
		case "dict_size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Record{}, fmt.Errorf("manifest: parse dict_size: %w", err)
			}
			rec.DictSize = n
		case "id":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Record{}, fmt.Errorf("manifest: parse id: %w", err)
			}
			rec.ID = uint16(n)
		}
	}
	if err := sc.Err(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Scan reads every "*.mf" sidecar under dir, skipping dictionaries retired
// longer ago than quarantine. It does not populate pool handles — callers
// (the Engine at startup and on each rescan, the trainer after each
// successful train) feed the result through routing.FromManifestRecords
// to routing.Build.
func Scan(dir string, quarantine time.Duration, now time.Time) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: scan %s: %w", dir, err)
	}

	var records []Record
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".mf") {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("manifest: read %s: %w", path, err)
		}
		rec, err := parse(path, data)
		if err != nil {
			return nil, err
		}
		if !rec.RetiredAt.IsZero() && now.Sub(rec.RetiredAt) > quarantine {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
