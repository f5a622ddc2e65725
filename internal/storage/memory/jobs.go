package memory

import (
	"context"
	"sort"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

func (s *Store) CreateJobIfIdle(_ context.Context, source models.Source, jobType models.JobType) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Source == source && j.Status.Active() {
			return nil, storage.ErrJobActive
		}
	}
	job := &models.ScrapeJob{
		ID:        s.id(),
		Source:    source,
		JobType:   jobType,
		Status:    models.JobStatusPending,
		CreatedAt: s.now(),
	}
	s.jobs[job.ID] = job
	out := *job
	return &out, nil
}

func (s *Store) GetJob(_ context.Context, id int64) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *j
	return &out, nil
}

func (s *Store) TransitionJob(_ context.Context, id int64, to models.JobStatus, upd storage.JobUpdate) (*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !j.Status.CanTransition(to) {
		return nil, storage.ErrInvalidTransition
	}
	at := upd.At
	if at.IsZero() {
		at = s.now()
	}
	j.Status = to
	if to == models.JobStatusRunning {
		j.StartedAt = &at
	} else {
		j.CompletedAt = &at
	}
	applyCounters(j, upd)
	if upd.ErrorDetails != nil {
		d := *upd.ErrorDetails
		j.ErrorDetails = &d
	}
	out := *j
	return &out, nil
}

func (s *Store) UpdateJobProgress(_ context.Context, id int64, upd storage.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if j.Status == models.JobStatusRunning {
		applyCounters(j, upd)
	}
	return nil
}

func applyCounters(j *models.ScrapeJob, upd storage.JobUpdate) {
	if c := upd.Counters; c != nil {
		j.ProductsScraped, j.ProductsNew, j.ProductsUpdated, j.ErrorsCount = c.Scraped, c.New, c.Updated, c.Errors
	}
}

func (s *Store) ListJobs(_ context.Context, f models.JobFilter) ([]*models.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScrapeJob
	for _, j := range s.jobs {
		if f.Source != "" && j.Source != f.Source {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultJobListLimit
	}
	return paginate(out, limit, f.Offset), nil
}

func (s *Store) JobStats(_ context.Context) (*models.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.JobStats{
		ByStatus: make(map[models.JobStatus]int),
		BySource: make(map[models.Source]int),
	}
	for _, j := range s.jobs {
		stats.Total++
		stats.ByStatus[j.Status]++
		stats.BySource[j.Source]++
	}
	return stats, nil
}
