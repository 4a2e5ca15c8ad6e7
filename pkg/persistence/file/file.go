// Package file provides file-based persistence: one JSON document per workflow, execution and entity.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/followup/pkg/persistence"
	"github.com/sasha-s/go-deadlock"
)

// Persistence implements persistence.Persistence on the local file system.
// A single process owns the directory; a process-wide lock makes check-then-write sequences atomic.
type Persistence struct {
	root string
	mu   *deadlock.RWMutex

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	entityRepo    *EntityRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	mu := &deadlock.RWMutex{}
	store := &documents{root: cleanRoot}

	return &Persistence{
		root:          cleanRoot,
		mu:            mu,
		workflowRepo:  &WorkflowRepository{store: store, mu: mu},
		executionRepo: &ExecutionRepository{store: store, mu: mu},
		entityRepo:    &EntityRepository{store: store, mu: mu},
	}
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) EntityRepository() persistence.EntityRepository {
	return fp.entityRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists or can be created.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(fp.root, 0750)
}

// documents reads and writes JSON files below root/<collection>/.
type documents struct {
	root string
}

// validateID rejects identifiers that could escape the collection directory.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q contains invalid characters", id)
	}

	return nil
}

func (d *documents) path(collection, id string) string {
	return filepath.Join(d.root, collection, id+".json")
}

func (d *documents) read(collection, id string, out any) (bool, error) {
	err := validateID(id)
	if err != nil {
		return false, err
	}

	body, err := os.ReadFile(d.path(collection, id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s %s: %w", collection, id, err)
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return true, nil
}

// write stores the document through a temp file and rename so readers never see partial JSON.
func (d *documents) write(collection, id string, value any) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	dir := filepath.Join(d.root, collection)

	err = os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	tmp := d.path(collection, id) + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return os.Rename(tmp, d.path(collection, id))
}

// ids lists document ids of a collection; a missing directory is an empty collection.
func (d *documents) ids(collection string) ([]string, error) {
	dir := filepath.Join(d.root, collection)

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}
