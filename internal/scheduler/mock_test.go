package scheduler

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
)

// memStore is an in-memory JobStore.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]model.BackgroundJob
	saves   int
	failing bool
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]model.BackgroundJob)}
}

func (m *memStore) SaveJob(_ context.Context, job *model.BackgroundJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return eris.New("store unavailable")
	}
	m.saves++
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) ListActiveJobs(_ context.Context) ([]model.BackgroundJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BackgroundJob
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) get(id string) model.BackgroundJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *memStore) setFailing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = v
}

// recorder is a Runner capturing the jobs it is handed.
type recorder struct {
	ch chan model.BackgroundJob
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan model.BackgroundJob, 8)}
}

func (r *recorder) run(_ context.Context, job model.BackgroundJob) {
	r.ch <- job
}
