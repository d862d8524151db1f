package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/lofyer/warp-multiproxy-go/internal/logging"
)

// Store is the per-directory JSON account store (C1). One file per account,
// named after a sanitized form of its name.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating accounts dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// sanitize replaces path separators so name is always a safe file stem.
func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_")
	return r.Replace(name)
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dir, sanitize(name)+".json")
}

// LoadDirectory enumerates *.json in sorted order and parses each into an
// Account with durable fields only. Malformed files are logged and skipped
// rather than aborting the load, so one bad file doesn't take the pool down.
func (s *Store) LoadDirectory(sink PersistenceSink) ([]*Account, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading accounts dir %s: %w", s.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		full := filepath.Join(s.dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			logging.L().Warn().Err(err).Str("file", full).Msg("failed to read account file, skipping")
			continue
		}
		var rec durableRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logging.L().Warn().Err(err).Str("file", full).Msg("malformed account file, skipping")
			continue
		}
		if rec.Name == "" {
			logging.L().Warn().Str("file", full).Msg("account file missing name, skipping")
			continue
		}
		accounts = append(accounts, fromDurableRecord(rec, sink))
	}

	if len(accounts) == 0 {
		logging.L().Warn().Str("dir", s.dir).Msg("no accounts loaded from directory")
	}
	return accounts, nil
}

// SaveAccount writes the durable subset of a, under an advisory file lock so
// a concurrent reload never observes a half-written file. Write failures are
// logged and do not roll back in-memory state: durable fields re-sync on the
// next mutation.
func (s *Store) SaveAccount(a *Account) error {
	path := s.pathFor(a.Name)
	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		logging.L().Warn().Err(err).Str("account", a.Name).Msg("failed to acquire account file lock")
		return err
	}
	defer fl.Unlock()

	data, err := json.MarshalIndent(a.toDurableRecord(), "", "  ")
	if err != nil {
		logging.L().Warn().Err(err).Str("account", a.Name).Msg("failed to marshal account")
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		logging.L().Warn().Err(err).Str("account", a.Name).Msg("failed to write account file")
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.L().Warn().Err(err).Str("account", a.Name).Msg("failed to finalize account file")
		return err
	}
	return nil
}

// DeleteAccountFile removes the file for name if present; absence is not an error.
func (s *Store) DeleteAccountFile(name string) error {
	path := s.pathFor(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(path + ".lock")
	return nil
}
