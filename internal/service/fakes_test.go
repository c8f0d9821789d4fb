package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/warc-manager/internal/domain/model"
	"github.com/bigkaa/warc-manager/internal/repository"
)

// fakeCollectionRepo — CollectionRepository в памяти с семантикой условного UPDATE.
type fakeCollectionRepo struct {
	mu      sync.Mutex
	records map[string]*model.Collection
	// failWrites — ошибка для всех операций записи
	failWrites error
	// beforeUpsert вызывается перед UpsertQueried (для имитации гонок)
	beforeUpsert func()
	upserts      int
}

func newFakeCollectionRepo() *fakeCollectionRepo {
	return &fakeCollectionRepo{records: make(map[string]*model.Collection)}
}

func cloneCollection(c *model.Collection) *model.Collection {
	cp := *c
	cp.StatusHistory = append([]model.StatusChange(nil), c.StatusHistory...)
	return &cp
}

func (r *fakeCollectionRepo) put(c *model.Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.records[c.ArcCollectionID] = c
}

func (r *fakeCollectionRepo) get(arcID string) *model.Collection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[arcID]
	if !ok {
		return nil
	}
	return cloneCollection(c)
}

func (r *fakeCollectionRepo) GetByArcID(_ context.Context, arcID string) (*model.Collection, error) {
	if c := r.get(arcID); c != nil {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeCollectionRepo) UpsertQueried(_ context.Context, arcID string, ov *model.Overview, at time.Time) (*model.Collection, bool, error) {
	if r.beforeUpsert != nil {
		r.beforeUpsert()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.failWrites != nil {
		return nil, false, r.failWrites
	}
	size := ov.SizeInBytes
	c, ok := r.records[arcID]
	if ok && c.Status != model.StatusQueried {
		return nil, false, fmt.Errorf("%w: %s", repository.ErrStatusChanged, c.Status)
	}
	if !ok {
		c = &model.Collection{ID: uuid.NewString(), ArcCollectionID: arcID, CreatedAt: at}
		r.records[arcID] = c
	}
	c.Status = model.StatusQueried
	c.ItemCount = ov.ItemCount
	c.SizeInBytes = &size
	c.AllFilesOnArc = ov.Files
	c.HasErrors = false
	c.StatusHistory = append(c.StatusHistory, model.StatusChange{Status: model.StatusQueried, Timestamp: at})
	c.UpdatedAt = at
	return cloneCollection(c), !ok, nil
}

func (r *fakeCollectionRepo) CompareAndSetStatus(_ context.Context, arcID string, from, to model.CollectionStatus, at time.Time) (*model.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites != nil {
		return nil, r.failWrites
	}
	c, ok := r.records[arcID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.Status != from {
		return nil, fmt.Errorf("%w: %s", repository.ErrStatusChanged, c.Status)
	}
	c.Status = to
	c.HasErrors = false
	c.StatusHistory = append(c.StatusHistory, model.StatusChange{Status: to, Timestamp: at})
	c.UpdatedAt = at
	return cloneCollection(c), nil
}

func (r *fakeCollectionRepo) MarkError(_ context.Context, arcID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites != nil {
		return r.failWrites
	}
	c, ok := r.records[arcID]
	if !ok {
		return repository.ErrNotFound
	}
	c.HasErrors = true
	if notes != "" {
		c.Notes = notes
	}
	return nil
}

func (r *fakeCollectionRepo) List(_ context.Context, f repository.ListFilter) ([]*model.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Collection
	for _, c := range r.records {
		if f.Status == nil || c.Status == *f.Status {
			all = append(all, cloneCollection(c))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ArcCollectionID < all[j].ArcCollectionID })
	if f.Offset >= len(all) {
		return []*model.Collection{}, nil
	}
	all = all[f.Offset:]
	if len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (r *fakeCollectionRepo) Count(ctx context.Context, st *model.CollectionStatus) (int, error) {
	items, _ := r.List(ctx, repository.ListFilter{Status: st, Limit: 1 << 30})
	return len(items), nil
}

// fakeStarter считает вызовы Start.
type fakeStarter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *fakeStarter) Start(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, externalID)
	return s.err
}

func (s *fakeStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// countingAggregator — обёртка для подсчёта вызовов агрегации.
type countingAggregator struct {
	mu    sync.Mutex
	inner OverviewAggregator
	calls int
}

func (a *countingAggregator) Aggregate(ctx context.Context, id string) (*model.Overview, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.inner.Aggregate(ctx, id)
}

func (a *countingAggregator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

var errDBDown = errors.New("connection refused")
