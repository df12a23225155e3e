package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var errEmptyFilePath = errors.New("credentials.file.empty_path")

const credentialFileMode = 0o600

type credentialFile struct {
	Profiles map[string]Pair `json:"profiles"`
}

// FileBackend keeps credential pairs in a JSON document on disk, one entry per profile.
type FileBackend struct {
	path    string
	profile string
}

// NewFileBackend constructs a file backend. The parent directory is created on first save.
func NewFileBackend(path string, profile string) (*FileBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("credentials.file.open: %w", errEmptyFilePath)
	}
	if strings.TrimSpace(profile) == "" {
		return nil, fmt.Errorf("credentials.file.open: %w", ErrEmptyProfile)
	}
	return &FileBackend{path: filepath.Clean(path), profile: profile}, nil
}

// NewFileStore constructs a Store persisted in the JSON file at path.
func NewFileStore(path string, profile string) (*BackendStore, error) {
	backend, err := NewFileBackend(path, profile)
	if err != nil {
		return nil, err
	}
	return FromBackend(backend)
}

// Path exposes the document location.
func (backend *FileBackend) Path() string {
	return backend.path
}

// Load returns the pair stored for the profile, or an empty pair when absent.
func (backend *FileBackend) Load(ctx context.Context) (Pair, error) {
	document, err := backend.read()
	if err != nil {
		return Pair{}, err
	}
	return document.Profiles[backend.profile], nil
}

// Save writes the pair for the profile.
func (backend *FileBackend) Save(ctx context.Context, pair Pair) error {
	document, err := backend.read()
	if err != nil {
		return err
	}
	document.Profiles[backend.profile] = pair
	return backend.write(document)
}

// Delete drops the profile entry.
func (backend *FileBackend) Delete(ctx context.Context) error {
	document, err := backend.read()
	if err != nil {
		return err
	}
	if _, exists := document.Profiles[backend.profile]; !exists {
		return nil
	}
	delete(document.Profiles, backend.profile)
	return backend.write(document)
}

func (backend *FileBackend) read() (credentialFile, error) {
	document := credentialFile{Profiles: make(map[string]Pair)}
	data, err := os.ReadFile(backend.path)
	if errors.Is(err, fs.ErrNotExist) {
		return document, nil
	}
	if err != nil {
		return document, fmt.Errorf("credentials.file.read: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return document, nil
	}
	if err := json.Unmarshal(data, &document); err != nil {
		return document, fmt.Errorf("credentials.file.decode: %w", err)
	}
	if document.Profiles == nil {
		document.Profiles = make(map[string]Pair)
	}
	return document, nil
}

func (backend *FileBackend) write(document credentialFile) error {
	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials.file.encode: %w", err)
	}
	directory := filepath.Dir(backend.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("credentials.file.mkdir: %w", err)
	}
	temporary, err := os.CreateTemp(directory, ".credentials-*")
	if err != nil {
		return fmt.Errorf("credentials.file.write: %w", err)
	}
	temporaryPath := temporary.Name()
	defer func() { _ = os.Remove(temporaryPath) }()

	if _, err := temporary.Write(data); err != nil {
		_ = temporary.Close()
		return fmt.Errorf("credentials.file.write: %w", err)
	}
	if err := temporary.Chmod(credentialFileMode); err != nil {
		_ = temporary.Close()
		return fmt.Errorf("credentials.file.chmod: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("credentials.file.write: %w", err)
	}
	if err := os.Rename(temporaryPath, backend.path); err != nil {
		return fmt.Errorf("credentials.file.rename: %w", err)
	}
	return nil
}
