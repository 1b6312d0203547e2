package denylist

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	DenylistFileName      = "blacklist.txt"
	IdentityCacheFileName = "usercache.json"
)

// FileStore keeps the denylist as a line-oriented text file and the identity
// cache as a JSON object, both under one directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) denylistPath() string { return filepath.Join(s.dir, DenylistFileName) }

func (s *FileStore) cachePath() string { return filepath.Join(s.dir, IdentityCacheFileName) }

// Init creates the storage directory.
func (s *FileStore) Init() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", s.dir, err)
	}
	return nil
}

func (s *FileStore) LoadIdentityCache() (map[string]Identity, error) {
	entries := make(map[string]Identity)
	data, err := os.ReadFile(s.cachePath())
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return entries, fmt.Errorf("read identity cache: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return entries, nil
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return entries, fmt.Errorf("decode identity cache: %w", err)
	}
	for name, value := range values {
		var raw string
		if err := json.Unmarshal(value, &raw); err != nil {
			continue
		}
		id, err := ParseIdentity(raw)
		if err != nil {
			continue
		}
		entries[NormalizeName(name)] = id
	}
	return entries, nil
}

func (s *FileStore) SaveIdentityCache(entries map[string]Identity) error {
	out := make(map[string]string, len(entries))
	for name, id := range entries {
		out[NormalizeName(name)] = id.String()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode identity cache: %w", err)
	}
	return writeFileAtomic(s.cachePath(), data)
}

func (s *FileStore) LoadDenylist() ([]Identity, error) {
	f, err := os.Open(s.denylistPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open denylist: %w", err)
	}
	defer f.Close()

	var ids []Identity
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id, err := ParseIdentity(scanner.Text())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read denylist: %w", err)
	}
	return ids, nil
}

func (s *FileStore) SaveDenylist(ids []Identity) error {
	var b bytes.Buffer
	for _, id := range ids {
		b.WriteString(id.String())
		b.WriteByte('\n')
	}
	return writeFileAtomic(s.denylistPath(), b.Bytes())
}

func (s *FileStore) Close() error {
	return nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
