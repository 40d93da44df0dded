// ABOUTME: Line-oriented persistence for the credential store
// ABOUTME: One record per line, uid:role,role:hash, rewritten in full on save

package credstore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is a MemStore loaded from and saved to a UTF-8 text file with
// one record per line:
//
//	uid:role,role,...:hash
//
// A blank hash field marks a registration-only record. Malformed lines are
// skipped on load; a bad record can never grant access.
type FileStore struct {
	*MemStore
	path string
}

// NewFileStore loads the credential file at path. A missing file yields an
// empty store; the file is created on the first Save.
func NewFileStore(path string, maxAttempts int, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		MemStore: NewMemStore(maxAttempts, logger),
		path:     path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// AddUser creates the user and persists the whole store.
func (s *FileStore) AddUser(uid string, password []byte, roles []string) error {
	if err := s.MemStore.AddUser(uid, password, roles); err != nil {
		return err
	}
	return s.Save()
}

// RemoveUser deletes the user and persists the whole store.
func (s *FileStore) RemoveUser(uid string) bool {
	if !s.MemStore.RemoveUser(uid) {
		return false
	}
	if err := s.Save(); err != nil {
		s.logger.Error("failed to save credential file", "path", s.path, "error", err)
	}
	return true
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("credential file not found, starting empty", "path", s.path)
			return nil
		}
		return fmt.Errorf("opening credential file: %w", err)
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, ok := parseLine(line)
		if !ok {
			// Never fail open: a record we cannot read is a record
			// nobody can log in as.
			s.logger.Warn("skipping malformed credential line", "path", s.path, "line", lineNo)
			continue
		}
		s.users[rec.UID] = rec
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading credential file: %w", err)
	}

	s.logger.Info("credential file loaded", "path", s.path, "users", len(s.users))
	return nil
}

// parseLine parses "uid:role,role:hash". The hash field may be blank, and
// argon2 PHC hashes themselves contain ':'-free base64 so the first two
// separators are unambiguous.
func parseLine(line string) (*UserRecord, bool) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return nil, false
	}
	uid := strings.TrimSpace(parts[0])
	if uid == "" {
		return nil, false
	}
	var roles []string
	for _, r := range strings.Split(parts[1], ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	hash := strings.TrimSpace(parts[2])
	if hash != "" && !strings.HasPrefix(hash, "$argon2id$") {
		return nil, false
	}
	return &UserRecord{UID: uid, Roles: roles, passwordHash: hash}, true
}

// Save rewrites the credential file with all records sorted by uid.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, uid := range s.uids() {
		rec := s.users[uid]
		fmt.Fprintf(&b, "%s:%s:%s\n", rec.UID, strings.Join(rec.Roles, ","), rec.passwordHash)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing credential file: %w", err)
	}
	return nil
}
