package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/imamik/hubspoke/internal/deployment"
)

// document is the on-disk layout of the file backend.
type document struct {
	Deployments []*deployment.Record `json:"deployments"`
}

// FileStore keeps every record in one JSON document. Writes go to a temp
// file in the same directory and are renamed over the original.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates the parent directory and an empty document when
// path does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(&document{Deployments: []*deployment.Record{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return s, nil
}

// Path returns the document location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(_ context.Context, rec *deployment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range doc.Deployments {
		if existing.SpokeID == rec.SpokeID {
			doc.Deployments[i] = rec.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Deployments = append(doc.Deployments, rec.Clone())
	}
	return s.write(doc)
}

func (s *FileStore) Get(_ context.Context, spokeID int) (*deployment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, rec := range doc.Deployments {
		if rec.SpokeID == spokeID {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *FileStore) Delete(_ context.Context, spokeID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	kept := doc.Deployments[:0]
	for _, rec := range doc.Deployments {
		if rec.SpokeID != spokeID {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(doc.Deployments) {
		return nil
	}
	doc.Deployments = kept
	return s.write(doc)
}

func (s *FileStore) List(_ context.Context, filter Filter) ([]*deployment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return filter.apply(doc.Deployments), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	doc := &document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode deployments: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
