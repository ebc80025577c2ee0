package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/scanlha/internal/results"
)

// FallbackKey replaces a reserved key in Save.
const FallbackKey = "results"

// ErrNoResults is returned by Save before any Submit.
var ErrNoResults = errors.New("no results to save")

// Store persists tables under logical keys.
type Store interface {
	Reserved(key string) bool
	Put(ctx context.Context, key string, t *results.Table, overwrite bool) error
}

// Save stores the table of the last Submit under key. A reserved key is
// replaced by FallbackKey. Save returns the key actually used.
func (s *Scan) Save(ctx context.Context, st Store, key string, overwrite bool) (string, error) {
	if s.table == nil {
		return "", ErrNoResults
	}
	if st.Reserved(key) {
		s.log.Warnf("key %q is reserved, saving under %q instead", key, FallbackKey)
		key = FallbackKey
	}
	if err := st.Put(ctx, key, s.table, overwrite); err != nil {
		return "", fmt.Errorf("saving scan: %w", err)
	}
	return key, nil
}
