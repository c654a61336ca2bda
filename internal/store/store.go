// internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ProfileStore is a read-only set of login profiles loaded from YAML:
//
//	default:
//	  email: qa@example.com
//	  password: hunter2
//
// Field names become placeholders (<EMAIL>, <PASSWORD>) in the agent.
type ProfileStore struct {
	path     string
	profiles map[string]map[string]string
	log      *zap.Logger
}

// LoadProfiles reads the profile file at path. A missing file yields an empty
// store so that runs without a login still start; selecting a profile from it
// then fails.
func LoadProfiles(path string, logger *zap.Logger) (*ProfileStore, error) {
	s := &ProfileStore{
		path:     path,
		profiles: map[string]map[string]string{},
		log:      logger.Named("store"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Login profile file not found; no profiles loaded.", zap.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("failed to read login profiles: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.profiles); err != nil {
		// The yaml error can quote the offending line, which may hold a secret.
		return nil, fmt.Errorf("failed to parse login profiles in %s: invalid YAML", path)
	}
	if s.profiles == nil {
		s.profiles = map[string]map[string]string{}
	}

	s.log.Info("Loaded login profiles.", zap.String("path", path), zap.Int("count", len(s.profiles)))
	return s, nil
}

// NewProfileStore builds a store from an in-memory map, mostly for tests.
func NewProfileStore(profiles map[string]map[string]string, logger *zap.Logger) *ProfileStore {
	s := &ProfileStore{profiles: map[string]map[string]string{}, log: logger.Named("store")}
	for name, fields := range profiles {
		s.profiles[name] = copyFields(fields)
	}
	return s
}

// Credentials returns a copy of the profile's fields. An empty profile is
// treated as missing.
func (s *ProfileStore) Credentials(profile string) (map[string]string, bool) {
	fields, ok := s.profiles[profile]
	if !ok || len(fields) == 0 {
		return nil, false
	}
	return copyFields(fields), true
}

// Names lists the configured profile names, sorted. Values are never exposed.
func (s *ProfileStore) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path is where the profiles were loaded from.
func (s *ProfileStore) Path() string { return s.path }

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
