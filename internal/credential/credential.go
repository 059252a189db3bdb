// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credential persists the API credential in client-local storage.
//
// Exactly one string is stored, under a fixed path: it is read once at
// startup and rewritten on every change. No transcript or other settings
// data lives here.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/reflexai/nexus/internal/util"
)

// FileName is the fixed name of the credential file inside the nexus
// state directory.
const FileName = "credential"

// DefaultPath returns ~/.nexus/credential.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".nexus", FileName), nil
}

// Store reads and writes the single persisted credential.
type Store struct {
	path string
}

// NewStore creates a store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored credential, or "" when none has been saved.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the credential atomically with owner-only permissions.
// Saving an empty value removes the file.
func (s *Store) Save(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove credential: %w", err)
		}
		return nil
	}
	if err := util.AtomicWriteFile(s.path, []byte(value+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}
