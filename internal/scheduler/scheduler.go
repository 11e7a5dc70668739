// Package scheduler arbitrates background jobs per project: a
// QUESTION_EXTRACTION job pre-empts a running REQUIREMENT_EXTRACTION job,
// which resumes from its checkpoint once the high priority job is done.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/model"
)

var (
	ErrJobNotFound          = eris.New("scheduler: job not found")
	ErrInvalidTransition    = eris.New("scheduler: invalid transition")
	ErrCheckpointRegression = eris.New("scheduler: checkpoint regression")
	// ErrPaused tells a worker to stop: its job was paused. The checkpoint
	// it tried to record is kept.
	ErrPaused = eris.New("scheduler: job paused")
	// ErrPausePending rejects completing a job that was paused.
	ErrPausePending = eris.New("scheduler: pause pending")
)

// JobStore persists job transitions.
type JobStore interface {
	SaveJob(ctx context.Context, job *model.BackgroundJob) error
	ListActiveJobs(ctx context.Context) ([]model.BackgroundJob, error)
}

// Runner executes a job handed over by the scheduler (a resumed job or a
// deferred one). It runs on its own goroutine and reports back through
// Checkpoint and CompleteJob.
type Runner func(ctx context.Context, job model.BackgroundJob)

// StartResult tells the caller whether it may run the job.
type StartResult struct {
	CanStart    bool   `json:"can_start"`
	PausedJobID string `json:"paused_job_id,omitempty"`
	// Deferred is set when a low priority job waits for a high priority
	// one; the scheduler starts it through its Runner later.
	Deferred    bool   `json:"deferred,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunner registers the runner for resumed and deferred jobs of a type.
func WithRunner(t model.JobType, r Runner) Option {
	return func(s *Scheduler) { s.runners[t] = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler owns the job table. All transitions are serialized by one mutex
// and written through to the store before they become visible.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*model.BackgroundJob
	store   JobStore
	runners map[model.JobType]Runner
	now     func() time.Time
	wg      sync.WaitGroup
}

// New creates a Scheduler. store may be nil for an in-memory table.
func New(store JobStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:    make(map[string]*model.BackgroundJob),
		store:   store,
		runners: make(map[model.JobType]Runner),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetRunner registers a runner after construction, for callers whose
// runner needs the scheduler itself.
func (s *Scheduler) SetRunner(t model.JobType, r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[t] = r
}

// RegisterJob records a pending job and returns its id.
func (s *Scheduler) RegisterJob(ctx context.Context, projectID string, jobType model.JobType, sources []string) (string, error) {
	if projectID == "" {
		return "", eris.New("scheduler: project id is required")
	}
	if !jobType.Valid() {
		return "", eris.Errorf("scheduler: unknown job type %q", jobType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	job := &model.BackgroundJob{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Type:       jobType,
		Status:     model.JobPending,
		SourceKeys: append([]string(nil), sources...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.save(ctx, job); err != nil {
		return "", err
	}
	s.jobs[job.ID] = job

	zap.L().Info("scheduler: job registered",
		zap.String("job_id", job.ID),
		zap.String("project_id", projectID),
		zap.String("type", string(jobType)),
		zap.Int("sources", len(sources)),
	)
	return job.ID, nil
}

// StartJob moves a pending job to running when the project's jobs allow it.
// Starting a high priority job pauses a running low priority job of the
// same project and proceeds immediately. A low priority job does not start
// while a high priority job runs; it stays pending and is started when
// that job ends.
func (s *Scheduler) StartJob(ctx context.Context, jobID string) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return StartResult{}, eris.Wrapf(ErrJobNotFound, "scheduler: start %s", jobID)
	}
	if job.Status != model.JobPending {
		return StartResult{}, eris.Wrapf(ErrInvalidTransition, "scheduler: start %s from %s", jobID, job.Status)
	}

	if other := s.activeOfType(job.ProjectID, job.Type, jobID); other != nil {
		return StartResult{Reason: "job " + other.ID + " of the same type is " + string(other.Status)}, nil
	}

	var res StartResult
	switch job.Type.Priority() {
	case model.PriorityLow:
		if high := s.runningOfPriority(job.ProjectID, model.PriorityHigh); high != nil {
			return StartResult{Deferred: true, Reason: "high priority job " + high.ID + " is running"}, nil
		}
	case model.PriorityHigh:
		if low := s.runningOfPriority(job.ProjectID, model.PriorityLow); low != nil {
			if err := s.transition(ctx, low, model.JobPaused); err != nil {
				return StartResult{}, err
			}
			res.PausedJobID = low.ID
			zap.L().Info("scheduler: job paused",
				zap.String("job_id", low.ID),
				zap.String("by", jobID),
				zap.Int("checkpoint", low.CurrentDocumentIndex),
			)
		}
	}

	if err := s.transition(ctx, job, model.JobRunning); err != nil {
		return StartResult{}, err
	}
	res.CanStart = true
	zap.L().Info("scheduler: job started", zap.String("job_id", jobID), zap.String("type", string(job.Type)))
	return res, nil
}

// Checkpoint records that index source documents are done. Checkpoints
// never move backwards. On a paused job the checkpoint is recorded and
// ErrPaused is returned so the worker stops.
func (s *Scheduler) Checkpoint(ctx context.Context, jobID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Wrapf(ErrJobNotFound, "scheduler: checkpoint %s", jobID)
	}
	if index < job.CurrentDocumentIndex {
		return eris.Wrapf(ErrCheckpointRegression, "scheduler: %s at %d, got %d", jobID, job.CurrentDocumentIndex, index)
	}
	if job.Status != model.JobRunning && job.Status != model.JobPaused {
		return eris.Wrapf(ErrInvalidTransition, "scheduler: checkpoint %s while %s", jobID, job.Status)
	}

	if index != job.CurrentDocumentIndex {
		prev := *job
		job.CurrentDocumentIndex = index
		job.UpdatedAt = s.now().UTC()
		if err := s.save(ctx, job); err != nil {
			*job = prev
			return err
		}
	}
	if job.Status == model.JobPaused {
		return eris.Wrapf(ErrPaused, "scheduler: %s at %d", jobID, index)
	}
	return nil
}

// ShouldPause reports whether the job's worker must stop.
func (s *Scheduler) ShouldPause(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return ok && job.Status == model.JobPaused
}

// CompleteJob ends a running job. When a high priority job ends, the
// project's paused low priority job is resumed from its checkpoint (or its
// oldest deferred one started) and returned.
func (s *Scheduler) CompleteJob(ctx context.Context, jobID string, success bool) (*model.BackgroundJob, error) {
	return s.finish(ctx, jobID, success, "")
}

// FailJob ends a running job as failed with the cause recorded.
func (s *Scheduler) FailJob(ctx context.Context, jobID string, cause error) (*model.BackgroundJob, error) {
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, jobID, false, msg)
}

func (s *Scheduler) finish(ctx context.Context, jobID string, success bool, msg string) (*model.BackgroundJob, error) {
	s.mu.Lock()

	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, eris.Wrapf(ErrJobNotFound, "scheduler: complete %s", jobID)
	}
	switch job.Status {
	case model.JobRunning:
	case model.JobPaused:
		s.mu.Unlock()
		return nil, eris.Wrapf(ErrPausePending, "scheduler: complete %s", jobID)
	default:
		s.mu.Unlock()
		return nil, eris.Wrapf(ErrInvalidTransition, "scheduler: complete %s from %s", jobID, job.Status)
	}

	status, prevErr := model.JobCompleted, job.Error
	if !success {
		status = model.JobFailed
		job.Error = msg
	}
	if err := s.transition(ctx, job, status); err != nil {
		job.Error = prevErr
		s.mu.Unlock()
		return nil, err
	}
	zap.L().Info("scheduler: job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Int("checkpoint", job.CurrentDocumentIndex),
	)

	var handoff *model.BackgroundJob
	var run Runner
	if job.Type.Priority() == model.PriorityHigh {
		var err error
		handoff, run, err = s.handOffLow(ctx, job.ProjectID)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	s.launch(ctx, handoff, run)
	return handoff, nil
}

// AbandonJob ends a job in any non-terminal state. Progress beyond its
// last checkpoint is lost. Abandoning a running high priority job hands
// the project over to its low priority job like CompleteJob does.
func (s *Scheduler) AbandonJob(ctx context.Context, jobID string) (*model.BackgroundJob, error) {
	s.mu.Lock()

	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, eris.Wrapf(ErrJobNotFound, "scheduler: abandon %s", jobID)
	}
	if job.Status.Terminal() {
		s.mu.Unlock()
		return nil, eris.Wrapf(ErrInvalidTransition, "scheduler: abandon %s from %s", jobID, job.Status)
	}

	wasRunning, prevErr := job.Status == model.JobRunning, job.Error
	job.Error = "abandoned"
	if err := s.transition(ctx, job, model.JobFailed); err != nil {
		job.Error = prevErr
		s.mu.Unlock()
		return nil, err
	}
	zap.L().Info("scheduler: job abandoned", zap.String("job_id", jobID), zap.Int("checkpoint", job.CurrentDocumentIndex))

	var handoff *model.BackgroundJob
	var run Runner
	if wasRunning && job.Type.Priority() == model.PriorityHigh {
		var err error
		handoff, run, err = s.handOffLow(ctx, job.ProjectID)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	s.launch(ctx, handoff, run)
	return handoff, nil
}

// Get returns a copy of a job.
func (s *Scheduler) Get(jobID string) (model.BackgroundJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return model.BackgroundJob{}, eris.Wrapf(ErrJobNotFound, "scheduler: get %s", jobID)
	}
	return clone(job), nil
}

// List returns the jobs of a project, or all jobs for an empty project id,
// oldest first.
func (s *Scheduler) List(projectID string) []model.BackgroundJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.BackgroundJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if projectID == "" || j.ProjectID == projectID {
			out = append(out, clone(j))
		}
	}
	sortJobs(out)
	return out
}

// Load rehydrates non-terminal jobs from the store. Jobs found running
// were interrupted: low priority ones become paused and are resumed from
// their checkpoint, high priority ones (whose caller is gone) fail.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "scheduler: load jobs")
	}

	s.mu.Lock()
	projects := make(map[string]bool)
	for i := range jobs {
		job := jobs[i]
		if _, known := s.jobs[job.ID]; known || job.Status.Terminal() {
			continue
		}
		s.jobs[job.ID] = &job

		if job.Type.Priority() == model.PriorityHigh {
			job.Error = "interrupted by restart"
			if err := s.transition(ctx, &job, model.JobFailed); err != nil {
				s.mu.Unlock()
				return 0, err
			}
			continue
		}
		if job.Status == model.JobRunning {
			if err := s.transition(ctx, &job, model.JobPaused); err != nil {
				s.mu.Unlock()
				return 0, err
			}
		}
		projects[job.ProjectID] = true
	}

	type launchable struct {
		job *model.BackgroundJob
		run Runner
	}
	var toLaunch []launchable
	ids := make([]string, 0, len(projects))
	for p := range projects {
		ids = append(ids, p)
	}
	sort.Strings(ids)
	for _, p := range ids {
		job, run, err := s.handOffLow(ctx, p)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		if job != nil {
			toLaunch = append(toLaunch, launchable{job, run})
		}
	}
	s.mu.Unlock()

	for _, l := range toLaunch {
		s.launch(ctx, l.job, l.run)
	}
	zap.L().Info("scheduler: jobs rehydrated", zap.Int("jobs", len(jobs)), zap.Int("resumed", len(toLaunch)))
	return len(jobs), nil
}

// Wait blocks until every runner launched by the scheduler has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// handOffLow resumes the project's paused low priority job, or starts its
// oldest pending one. The caller holds s.mu.
func (s *Scheduler) handOffLow(ctx context.Context, projectID string) (*model.BackgroundJob, Runner, error) {
	if s.runningOfPriority(projectID, model.PriorityHigh) != nil {
		return nil, nil, nil
	}

	var next *model.BackgroundJob
	var candidates []*model.BackgroundJob
	for _, j := range s.jobs {
		if j.ProjectID != projectID || j.Type.Priority() != model.PriorityLow {
			continue
		}
		switch j.Status {
		case model.JobRunning:
			return nil, nil, nil
		case model.JobPaused:
			next = j
		case model.JobPending:
			candidates = append(candidates, j)
		}
	}
	if next == nil && len(candidates) > 0 {
		sort.Slice(candidates, func(a, b int) bool {
			if !candidates[a].CreatedAt.Equal(candidates[b].CreatedAt) {
				return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
			}
			return candidates[a].ID < candidates[b].ID
		})
		next = candidates[0]
	}
	if next == nil {
		return nil, nil, nil
	}

	from := next.Status
	if err := s.transition(ctx, next, model.JobRunning); err != nil {
		return nil, nil, err
	}
	zap.L().Info("scheduler: job handed over",
		zap.String("job_id", next.ID),
		zap.String("from", string(from)),
		zap.Int("checkpoint", next.CurrentDocumentIndex),
	)
	c := clone(next)
	return &c, s.runners[next.Type], nil
}

func (s *Scheduler) launch(ctx context.Context, job *model.BackgroundJob, run Runner) {
	if job == nil || run == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(context.WithoutCancel(ctx), *job)
	}()
}

// activeOfType returns a running or paused job of the same project and
// type other than exclude.
func (s *Scheduler) activeOfType(projectID string, t model.JobType, exclude string) *model.BackgroundJob {
	for _, j := range s.jobs {
		if j.ID != exclude && j.ProjectID == projectID && j.Type == t &&
			(j.Status == model.JobRunning || j.Status == model.JobPaused) {
			return j
		}
	}
	return nil
}

func (s *Scheduler) runningOfPriority(projectID string, p model.Priority) *model.BackgroundJob {
	for _, j := range s.jobs {
		if j.ProjectID == projectID && j.Status == model.JobRunning && j.Type.Priority() == p {
			return j
		}
	}
	return nil
}

// transition changes status and writes through. The in-memory job is only
// modified when the write succeeds.
func (s *Scheduler) transition(ctx context.Context, job *model.BackgroundJob, to model.JobStatus) error {
	next := *job
	next.Status = to
	next.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, &next); err != nil {
		return err
	}
	*job = next
	return nil
}

func (s *Scheduler) save(ctx context.Context, job *model.BackgroundJob) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return eris.Wrapf(err, "scheduler: save job %s", job.ID)
	}
	return nil
}

func clone(j *model.BackgroundJob) model.BackgroundJob {
	c := *j
	c.SourceKeys = append([]string(nil), j.SourceKeys...)
	return c
}

func sortJobs(jobs []model.BackgroundJob) {
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
}
