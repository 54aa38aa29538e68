// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package payload caches stage outputs on disk so a later run can resume a
// candidate mid-pipeline without repeating earlier stages' external calls.
// Entries are JSON files keyed by stage and candidate hash id.
package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurostuff/ingest-engine/pkg/types"
)

// Cache stores one JSON file per (stage, candidate) under its root directory.
type Cache struct {
	root string
}

// NewCache returns a cache rooted at dir. The directory tree is created
// lazily on first write.
func NewCache(dir string) *Cache {
	return &Cache{root: dir}
}

// Put writes v for the given stage and candidate key, replacing any
// previous entry. The write goes through a temp file and rename so a
// crashed run never leaves a truncated entry behind.
func Put(c *Cache, stage types.Stage, key string, v any) error {
	dir := filepath.Join(c.root, string(stage))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", key, err)
	}

	dest := filepath.Join(dir, fileName(key))
	tmp, err := os.CreateTemp(dir, ".payload-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr != nil {
			return fmt.Errorf("writing cache entry %s: %w", key, writeErr)
		}
		return fmt.Errorf("closing cache entry %s: %w", key, closeErr)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming cache entry %s: %w", key, err)
	}
	return nil
}

// Get reads the entry for the given stage and candidate key into v.
// The second return value reports whether an entry existed.
func Get(c *Cache, stage types.Stage, key string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(c.root, string(stage), fileName(key)))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}
	return true, nil
}

// fileName maps a candidate hash id to a safe file name. Hash ids contain
// "|" separators and DOIs contain "/".
func fileName(key string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return mapped + ".json"
}
