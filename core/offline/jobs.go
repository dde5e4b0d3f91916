package offline

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"TrackVault/model"
)

// DefaultGracePeriod is how long a finished job stays visible to pollers.
const DefaultGracePeriod = 10 * time.Second

// JobRepository holds the progress records of download jobs. Callers only
// ever see clones.
type JobRepository interface {
	// Begin stores job unless an unfinished job with the same id exists. It
	// returns the current job and whether job was stored. A stored job gets a
	// fresh Attempt number.
	Begin(job *model.DownloadJob) (*model.DownloadJob, bool)
	Get(id string) (*model.DownloadJob, bool)
	// Update applies fn to the stored job atomically. An error from fn leaves
	// the job unchanged.
	Update(id string, fn func(job *model.DownloadJob) error) (*model.DownloadJob, error)
	Delete(id string)
	ListByUser(userID string) []*model.DownloadJob
}

const jobShardCount = 16

type jobEntry struct {
	job *model.DownloadJob
	gen uint64
}

type jobShard struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// MemoryJobRepository keeps jobs in sharded maps and drops finished jobs once
// the grace period has passed.
type MemoryJobRepository struct {
	shards [jobShardCount]*jobShard
	grace  time.Duration

	genMu sync.Mutex
	gen   uint64
}

func NewMemoryJobRepository(grace time.Duration) *MemoryJobRepository {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	r := &MemoryJobRepository{grace: grace}
	for i := range r.shards {
		r.shards[i] = &jobShard{jobs: make(map[string]*jobEntry)}
	}
	return r
}

func (r *MemoryJobRepository) shardFor(id string) *jobShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%jobShardCount]
}

func (r *MemoryJobRepository) nextGen() uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	r.gen++
	return r.gen
}

func (r *MemoryJobRepository) Begin(job *model.DownloadJob) (*model.DownloadJob, bool) {
	s := r.shardFor(job.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[job.ID]; ok && !e.job.State.IsTerminal() {
		return e.job.Clone(), false
	}
	stored := job.Clone()
	gen := r.nextGen()
	stored.Attempt = gen
	s.jobs[job.ID] = &jobEntry{job: stored, gen: gen}
	return stored.Clone(), true
}

func (r *MemoryJobRepository) Get(id string) (*model.DownloadJob, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return e.job.Clone(), true
}

func (r *MemoryJobRepository) Update(id string, fn func(job *model.DownloadJob) error) (*model.DownloadJob, error) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	next := e.job.Clone()
	if err := fn(next); err != nil {
		return e.job.Clone(), err
	}
	wasTerminal := e.job.State.IsTerminal()
	e.job = next
	if !wasTerminal && next.State.IsTerminal() {
		r.expireLater(id, e.gen)
	}
	return next.Clone(), nil
}

// expireLater removes the job after the grace period unless it has been
// replaced by a newer job with the same id in the meantime.
func (r *MemoryJobRepository) expireLater(id string, gen uint64) {
	time.AfterFunc(r.grace, func() {
		s := r.shardFor(id)
		s.mu.Lock()
		if e, ok := s.jobs[id]; ok && e.gen == gen {
			delete(s.jobs, id)
		}
		s.mu.Unlock()
	})
}

func (r *MemoryJobRepository) Delete(id string) {
	s := r.shardFor(id)
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (r *MemoryJobRepository) ListByUser(userID string) []*model.DownloadJob {
	var jobs []*model.DownloadJob
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.jobs {
			if e.job.UserID == userID {
				jobs = append(jobs, e.job.Clone())
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs
}
