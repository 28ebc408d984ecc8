// Package docstore persists the whole identity document as a single JSON
// file. There are no partial writes: persistence is whole-document replace.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkarpov/studenthub/internal/common"
	"github.com/dkarpov/studenthub/internal/filex"
	"github.com/dkarpov/studenthub/internal/server/models"
)

// FileStore reads and writes the document at a fixed path. Load and Persist
// are individually guarded by a mutex; serialization of a whole
// load-mutate-persist sequence is the identity service's responsibility.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reconstructs the document from disk. A missing file degrades to an
// empty document. Structurally invalid content is a hard failure: quietly
// replacing a corrupt document with an empty one would destroy it on the
// next Persist.
func (s *FileStore) Load(ctx context.Context) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.NewDocument(), nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", common.ErrStorageFailure, s.path, err)
	}

	doc := models.NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrStorageFailure, s.path, err)
	}

	return doc, nil
}

// Persist serializes the full document and replaces the durable copy. The
// write goes to a temp file in the same directory followed by a rename, so
// a cancelled or crashed request never leaves a partially written document.
func (s *FileStore) Persist(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding document: %v", common.ErrStorageFailure, err)
	}

	dir, err := filex.EnsureParentDir(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageFailure, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", common.ErrStorageFailure, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing document: %v", common.ErrStorageFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: closing temp file: %v", common.ErrStorageFailure, err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: replacing %s: %v", common.ErrStorageFailure, s.path, err)
	}

	return nil
}
