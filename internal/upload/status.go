package upload

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cuongbtq/upload-pipeline/internal/domain"
	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

// StatusQuery answers job status polls. Snapshots of jobs whose every file
// has an outcome no longer change and are served from an LRU cache.
type StatusQuery struct {
	ledger storage.Ledger
	cache  *expirable.LRU[string, *domain.JobSnapshot]
}

// NewStatusQuery creates a StatusQuery. A cacheSize of zero disables caching.
func NewStatusQuery(ledger storage.Ledger, cacheSize int, ttl time.Duration) *StatusQuery {
	q := &StatusQuery{ledger: ledger}
	if cacheSize > 0 {
		q.cache = expirable.NewLRU[string, *domain.JobSnapshot](cacheSize, nil, ttl)
	}
	return q
}

// GetStatus returns the job and its files. Only the job owner may read it.
func (q *StatusQuery) GetStatus(ctx context.Context, jobID, requesterID string) (*domain.JobSnapshot, error) {
	snapshot, ok := q.cached(jobID)
	if !ok {
		var err error
		snapshot, err = q.ledger.GetJobSnapshot(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if q.cache != nil && snapshot.Job.ProcessedFiles == snapshot.Job.TotalFiles {
			q.cache.Add(jobID, snapshot)
		}
	}

	if snapshot.Job.OwnerID != requesterID {
		return nil, domain.ErrPermissionDenied
	}

	return cloneSnapshot(snapshot), nil
}

// Invalidate drops the cached snapshot of jobID.
func (q *StatusQuery) Invalidate(jobID string) {
	if q.cache != nil {
		q.cache.Remove(jobID)
	}
}

func (q *StatusQuery) cached(jobID string) (*domain.JobSnapshot, bool) {
	if q.cache == nil {
		return nil, false
	}
	return q.cache.Get(jobID)
}

func cloneSnapshot(s *domain.JobSnapshot) *domain.JobSnapshot {
	c := &domain.JobSnapshot{Job: s.Job, Files: make([]domain.File, len(s.Files))}
	copy(c.Files, s.Files)
	return c
}
