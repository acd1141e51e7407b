// SPDX-License-Identifier: MIT

// Package backup writes periodic snapshot bundles with retention.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/cruxlive/cruxd/internal/live"
)

const (
	filePrefix = "backup_"
	fileSuffix = ".json"
	stampFmt   = "20060102T150405Z"
)

// Bundle is the on-disk backup file shape.
type Bundle struct {
	Snapshots []live.BoxSnapshot `json:"snapshots"`
}

// Write stores a bundle as backup_YYYYMMDDThhmmssZ.json under dir.
func Write(dir string, snaps []live.BoxSnapshot, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := filePrefix + now.UTC().Format(stampFmt) + fileSuffix
	path := filepath.Join(dir, name)

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("prepare backup file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	enc := json.NewEncoder(pf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Bundle{Snapshots: snaps}); err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("replace backup file: %w", err)
	}
	return path, nil
}

// list returns backup file names in dir, oldest first. The timestamped
// names sort chronologically.
func list(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Prune deletes all but the newest keep files, returning how many were
// removed.
func Prune(dir string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	names, err := list(dir)
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}
	removed := 0
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("remove old backup %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// Latest returns the newest backup file path and its parsed bundle.
func Latest(dir string) (string, *Bundle, error) {
	names, err := list(dir)
	if err != nil {
		return "", nil, err
	}
	if len(names) == 0 {
		return "", nil, os.ErrNotExist
	}
	path := filepath.Join(dir, names[len(names)-1])
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read backup %s: %w", path, err)
	}
	bundle := &Bundle{}
	if err := json.Unmarshal(raw, bundle); err != nil {
		return "", nil, fmt.Errorf("parse backup %s: %w", path, err)
	}
	return path, bundle, nil
}

// LatestInfo returns the newest backup file name and its timestamp
// without parsing the contents.
func LatestInfo(dir string) (string, time.Time, error) {
	names, err := list(dir)
	if err != nil {
		return "", time.Time{}, err
	}
	if len(names) == 0 {
		return "", time.Time{}, os.ErrNotExist
	}
	name := names[len(names)-1]
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	ts, err := time.Parse(stampFmt, stamp)
	if err != nil {
		info, statErr := os.Stat(filepath.Join(dir, name))
		if statErr != nil {
			return name, time.Time{}, nil
		}
		return name, info.ModTime(), nil
	}
	return name, ts, nil
}
