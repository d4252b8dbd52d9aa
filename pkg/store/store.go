// Package store persists workflows and page workflows as JSON records on disk.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/diskv/v3"

	"github.com/entrhq/pageflow/pkg/workflow"
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("record not found")

const (
	workflowBucket     = "workflows"
	pageWorkflowBucket = "page-workflows"
)

// Store is an on-disk record store with one diskv bucket per record kind.
type Store struct {
	path      string
	workflows *diskv.Diskv
	pages     *diskv.Diskv

	// serialises read-modify-write on the same key
	mu  sync.Mutex
	now func() time.Time
}

// New creates a store rooted at path.
func New(path string) *Store {
	flatTransform := func(s string) []string { return []string{} }
	// no read cache: other processes edit the same directory
	bucket := func(name string) *diskv.Diskv {
		return diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, name),
			Transform:    flatTransform,
			CacheSizeMax: 0,
		})
	}
	return &Store{
		path:      path,
		workflows: bucket(workflowBucket),
		pages:     bucket(pageWorkflowBucket),
		now:       time.Now,
	}
}

// Path returns the root directory of the store.
func (s *Store) Path() string {
	return s.path
}

func checkKey(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: unusable record id %q", workflow.ErrInvalid, id)
	}
	return nil
}

func readRecord(dv *diskv.Diskv, id string, v interface{}) error {
	if err := checkKey(id); err != nil {
		return err
	}
	if !dv.Has(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	raw, err := dv.Read(id)
	if err != nil {
		return fmt.Errorf("reading %s: %w", id, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", id, err)
	}
	return nil
}

func writeRecord(dv *diskv.Diskv, id string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}
	if err := dv.Write(id, raw); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	return nil
}

func eraseRecord(dv *diskv.Diskv, id string) error {
	if err := checkKey(id); err != nil {
		return err
	}
	if !dv.Has(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := dv.Erase(id); err != nil {
		return fmt.Errorf("erase %s: %w", id, err)
	}
	return nil
}

func keys(ctx context.Context, dv *diskv.Diskv) []string {
	cancel := make(chan struct{})
	defer close(cancel)

	var out []string
	for k := range dv.Keys(cancel) {
		if ctx.Err() != nil {
			break
		}
		out = append(out, k)
	}
	return out
}

func (s *Store) stamp() int64 {
	return s.now().UnixMilli()
}

// ListWorkflows returns every workflow, oldest first.
func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	var out []*workflow.Workflow
	for _, id := range keys(ctx, s.workflows) {
		wf := new(workflow.Workflow)
		if err := readRecord(s.workflows, id, wf); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetWorkflow returns the workflow with id, or ErrNotFound.
func (s *Store) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	wf := new(workflow.Workflow)
	if err := readRecord(s.workflows, id, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// SaveWorkflow inserts or replaces wf. An empty id is assigned; timestamps are
// maintained by the store.
func (s *Store) SaveWorkflow(_ context.Context, wf *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if err := checkKey(wf.ID); err != nil {
		return err
	}
	if err := wf.Validate(); err != nil {
		return err
	}

	now := s.stamp()
	var existing workflow.Workflow
	switch err := readRecord(s.workflows, wf.ID, &existing); {
	case err == nil:
		wf.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		if wf.CreatedAt == 0 {
			wf.CreatedAt = now
		}
	default:
		return err
	}
	wf.UpdatedAt = now
	return writeRecord(s.workflows, wf.ID, wf)
}

// DeleteWorkflow removes a workflow. Page workflows bound to it are left in place.
func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eraseRecord(s.workflows, id)
}

// ListPageWorkflows returns every page workflow, oldest first.
func (s *Store) ListPageWorkflows(ctx context.Context) ([]*workflow.PageWorkflow, error) {
	var out []*workflow.PageWorkflow
	for _, id := range keys(ctx, s.pages) {
		pw := new(workflow.PageWorkflow)
		if err := readRecord(s.pages, id, pw); err != nil {
			return nil, err
		}
		out = append(out, pw)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListPageWorkflowsFor returns the page workflows bound to workflowID.
func (s *Store) ListPageWorkflowsFor(ctx context.Context, workflowID string) ([]*workflow.PageWorkflow, error) {
	all, err := s.ListPageWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, pw := range all {
		if pw.WorkflowID == workflowID {
			out = append(out, pw)
		}
	}
	return out, nil
}

// GetPageWorkflow returns the page workflow with id, or ErrNotFound.
func (s *Store) GetPageWorkflow(_ context.Context, id string) (*workflow.PageWorkflow, error) {
	pw := new(workflow.PageWorkflow)
	if err := readRecord(s.pages, id, pw); err != nil {
		return nil, err
	}
	return pw, nil
}

// SavePageWorkflow inserts or replaces pw after checking it against its bound workflow.
func (s *Store) SavePageWorkflow(_ context.Context, pw *workflow.PageWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pw.ID == "" {
		pw.ID = uuid.NewString()
	}
	if err := checkKey(pw.ID); err != nil {
		return err
	}

	var wf workflow.Workflow
	if err := readRecord(s.workflows, pw.WorkflowID, &wf); err != nil {
		return fmt.Errorf("bound workflow: %w", err)
	}
	if err := workflow.ValidateBinding(&wf, pw); err != nil {
		return err
	}

	now := s.stamp()
	var existing workflow.PageWorkflow
	switch err := readRecord(s.pages, pw.ID, &existing); {
	case err == nil:
		pw.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		if pw.CreatedAt == 0 {
			pw.CreatedAt = now
		}
	default:
		return err
	}
	pw.UpdatedAt = now
	return writeRecord(s.pages, pw.ID, pw)
}

// DeletePageWorkflow removes a page workflow.
func (s *Store) DeletePageWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eraseRecord(s.pages, id)
}
