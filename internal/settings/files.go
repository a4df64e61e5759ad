package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Profile is the add-on profile directory holding flat JSON and M3U
// artifacts. All writes are atomic (temp file + rename); all formats are
// last-writer-wins with no schema versioning.
type Profile struct {
	Dir string
}

// NewProfile ensures dir exists and returns it as a Profile.
func NewProfile(dir string) (Profile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Profile{}, err
	}
	return Profile{Dir: dir}, nil
}

// Path resolves name inside the profile directory.
func (p Profile) Path(name string) string {
	return filepath.Join(p.Dir, filepath.Clean(name))
}

// SaveJSON writes v as indented JSON to name, atomically.
func (p Profile) SaveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: marshal %s: %w", name, err)
	}
	return p.WriteFile(name, data)
}

// LoadJSON reads name into v. A missing file is an error; callers that
// treat absence as empty should check Exists first or ignore the error.
func (p Profile) LoadJSON(name string, v any) error {
	data, err := os.ReadFile(p.Path(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteFile writes data to name atomically (temp file + rename).
func (p Profile) WriteFile(name string, data []byte) error {
	path := p.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("profile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("profile: write %s: %w", name, writeErr)
		}
		return fmt.Errorf("profile: close %s: %w", name, closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("profile: rename %s: %w", name, err)
	}
	return nil
}

// ReadFile reads name; returns nil data when the file is absent.
func (p Profile) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(p.Path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Exists reports whether name exists in the profile.
func (p Profile) Exists(name string) bool {
	_, err := os.Stat(p.Path(name))
	return err == nil
}

// OlderThan reports whether name is absent or older than d.
func (p Profile) OlderThan(name string, d time.Duration) bool {
	fi, err := os.Stat(p.Path(name))
	if err != nil {
		return true
	}
	return time.Since(fi.ModTime()) > d
}
