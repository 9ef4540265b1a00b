package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/govern/model/change"
	"github.com/viant/govern/service/dao"
)

// Service implements a filesystem-based change set store.  Each change set is
// a single JSON document named by its id.  Save enforces the same SCN
// compare-and-swap contract as the in-memory store so governance owners on
// different hosts sharing a mount cannot silently interleave.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ dao.Service[string, change.ChangeSet] = (*Service)(nil)

// Save persists a change set after verifying its SCN against the stored copy.
func (s *Service) Save(ctx context.Context, changeSet *change.ChangeSet) error {
	if changeSet == nil {
		return dao.ErrNilEntity
	}
	if changeSet.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(ctx, changeSet.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.SCN != changeSet.SCN {
		return dao.ErrVersionConflict
	}
	changeSet.SCN++

	data, err := json.Marshal(changeSet)
	if err != nil {
		return fmt.Errorf("failed to marshal change set: %w", err)
	}
	filePath := s.changeSetPath(changeSet.ID)
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save change set to file %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves a change set, or nil when it does not exist.
func (s *Service) Load(ctx context.Context, id string) (*change.ChangeSet, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*change.ChangeSet, error) {
	filePath := s.changeSetPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if change set exists: %w", err)
	}
	if !exists {
		return nil, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read change set file: %w", err)
	}
	var changeSet change.ChangeSet
	if err := json.Unmarshal(data, &changeSet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change set data: %w", err)
	}
	return &changeSet, nil
}

// Delete removes a change set document.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.changeSetPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if change set exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete change set file: %w", err)
	}
	return nil
}

// List returns all change sets, optionally filtered by a "status" parameter.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*change.ChangeSet, error) {
	var status change.Status
	for _, parameter := range parameters {
		if parameter.Name == "status" {
			if value, ok := parameter.Value.(string); ok {
				status = change.Status(value)
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list change set files: %w", err)
	}
	var changeSets []*change.ChangeSet
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		var changeSet change.ChangeSet
		if err := json.Unmarshal(data, &changeSet); err != nil {
			continue
		}
		if status != "" && changeSet.Status != status {
			continue
		}
		changeSets = append(changeSets, &changeSet)
	}
	return changeSets, nil
}

// changeSetPath returns the document path for a change set id.
func (s *Service) changeSetPath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}

// New creates a new filesystem change set store rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	basePath = url.Normalize(basePath, file.Scheme)
	return &Service{basePath: basePath, fs: fs}, nil
}
