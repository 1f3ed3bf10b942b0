package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Known contract type keys. Set accepts any of these; the escrow
// contracts other than GameMatch/ScoreBoard are only tracked here, their
// logic lives on chain.
var knownTypes = map[string]bool{
	"gameMatchFactory":  true,
	"scoreBoardFactory": true,
	"gameMatch":         true,
	"scoreBoard":        true,
	"heap":              true,
	"league":            true,
	"prediction":        true,
	"tournament":        true,
}

var ErrUnknownType = errors.New("unknown contract type")

// Registry maps chain ID -> contract type -> deployed address, backed by
// one JSON file on disk. Writes go through a temp file + rename so a
// crash never leaves a half-written registry.
type Registry struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]string // chainID (decimal string) -> type -> address
}

func Open(path string) (*Registry, error) {
	r := &Registry{
		path: path,
		data: make(map[string]map[string]string),
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &r.data); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return r, nil
}

func (r *Registry) Get(chainID int64, contractType string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byType, ok := r.data[chainKey(chainID)]
	if !ok {
		return "", false
	}
	addr, ok := byType[contractType]
	return addr, ok
}

// All returns every recorded contract for a chain, sorted by type so the
// JSON response is stable.
func (r *Registry) All(chainID int64) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	byType := r.data[chainKey(chainID)]
	out := make(map[string]string, len(byType))
	keys := make([]string, 0, len(byType))
	for k := range byType {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = byType[k]
	}
	return out
}

func (r *Registry) Set(chainID int64, contractType, address string) error {
	if !knownTypes[contractType] {
		return fmt.Errorf("%w: %q", ErrUnknownType, contractType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := chainKey(chainID)
	if r.data[key] == nil {
		r.data[key] = make(map[string]string)
	}
	r.data[key][contractType] = address

	return r.flushLocked()
}

func (r *Registry) flushLocked() error {
	b, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "contracts-*.json")
	if err != nil {
		return fmt.Errorf("registry: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: close: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: rename: %w", err)
	}
	return nil
}

func chainKey(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
