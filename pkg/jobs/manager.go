// Package jobs keeps the in-memory registry of bulk runs and gates how many of them execute at once.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/vcloud-bot/vcloud-bot/pkg/models"
)

// ErrNotFound is returned for an unknown job id
var ErrNotFound = errors.New("job not found")

// Finished jobs kept for status queries; older ones are evicted on Create
const historyLimit = 100

// Status represents the current state of a run
type Status string

const (
	StatusPending   Status = "pending" // Waiting for a run slot
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the job has finished
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a point-in-time copy of one bulk run's registry entry
type Job struct {
	ID            string              `json:"id"`
	ChatID        int64               `json:"chat_id"`
	Source        string              `json:"source"` // File name or tool that started the run
	Status        Status              `json:"status"`
	StartedAt     time.Time           `json:"started_at"`
	CompletedAt   time.Time           `json:"completed_at,omitempty"`
	TotalURLs     int                 `json:"total_urls"`
	ProcessedURLs int                 `json:"processed_urls"`
	TotalLinks    int                 `json:"total_links"`
	EmergencyURLs int                 `json:"emergency_urls"`
	BatchesDone   int                 `json:"batches_done"`
	TotalBatches  int                 `json:"total_batches"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	Progress      *models.RunProgress `json:"progress,omitempty"` // Live pipeline state while running
}

// Snapshotter exposes the live progress of a run; *pipeline.Pipeline implements it
type Snapshotter interface {
	Snapshot() models.RunProgress
}

// RunFunc performs the work of a job. progress is handed to the pipeline as its reporter.
type RunFunc func(ctx context.Context, progress Progress) (models.BulkResult, error)

type entry struct {
	job    Job
	result *models.BulkResult
	snap   Snapshotter

	ctx    context.Context
	cancel context.CancelFunc
}

// Manager manages bulk runs
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log *logrus.Entry
	now func() time.Time
}

// NewManager creates a Manager running at most maxConcurrent jobs at a time (minimum 1)
func NewManager(maxConcurrent int, log *logrus.Entry) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Manager{
		jobs: make(map[string]*entry),
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		log:  log,
		now:  time.Now,
	}
}

// Create registers a pending job
func (m *Manager) Create(chatID int64, source string, totalURLs int) Job {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		job: Job{
			ID:        uuid.New().String(),
			ChatID:    chatID,
			Source:    source,
			Status:    StatusPending,
			StartedAt: m.now(),
			TotalURLs: totalURLs,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	m.mu.Lock()
	m.jobs[e.job.ID] = e
	m.pruneLocked()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"job_id":     e.job.ID,
		"chat_id":    chatID,
		"source":     source,
		"total_urls": totalURLs,
	}).Info("Job created")
	return e.job
}

// pruneLocked evicts the oldest finished jobs beyond historyLimit
func (m *Manager) pruneLocked() {
	var finished []*entry
	for _, e := range m.jobs {
		if e.job.Status.IsTerminal() {
			finished = append(finished, e)
		}
	}
	if len(finished) <= historyLimit {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].job.CompletedAt.Before(finished[j].job.CompletedAt)
	})
	for _, e := range finished[:len(finished)-historyLimit] {
		delete(m.jobs, e.job.ID)
	}
}

// Get returns a copy of the job, with live progress attached while it runs
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.view(), true
}

func (e *entry) view() Job {
	job := e.job
	if job.Status == StatusRunning && e.snap != nil {
		snap := e.snap.Snapshot()
		job.Progress = &snap
	}
	return job
}

// Result returns the aggregated result of a completed job
func (m *Manager) Result(id string) (models.BulkResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok || e.result == nil {
		return models.BulkResult{}, false
	}
	return *e.result, true
}

// List returns every job, oldest first
func (m *Manager) List() []Job {
	return m.filter(func(Job) bool { return true })
}

// Active returns the pending and running jobs of a chat, oldest first
func (m *Manager) Active(chatID int64) []Job {
	return m.filter(func(j Job) bool {
		return j.ChatID == chatID && !j.Status.IsTerminal()
	})
}

func (m *Manager) filter(keep func(Job) bool) []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		if j := e.view(); keep(j) {
			jobs = append(jobs, j)
		}
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs
}

// Run waits for a run slot, executes fn and records the outcome. It blocks until fn returns.
// A panic in fn marks the job failed.
func (m *Manager) Run(id string, fn RunFunc) error {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	jobLog := m.log.WithField("job_id", id)

	if err := m.sem.Acquire(e.ctx, 1); err != nil {
		m.finish(id, StatusCancelled, nil, err)
		return err
	}
	defer m.sem.Release(1)

	if !m.markRunning(id) {
		return e.ctx.Err()
	}
	jobLog.Info("Job running")

	result, err := m.call(e.ctx, fn, Progress{m: m, id: id})
	if err != nil {
		jobLog.Errorf("Job failed: %v", err)
		m.finish(id, StatusFailed, nil, err)
		return err
	}
	m.finish(id, StatusCompleted, &result, nil)
	jobLog.WithFields(logrus.Fields{
		"processed": result.ProcessedURLs,
		"links":     result.TotalVcloudLinks,
	}).Info("Job completed")
	return nil
}

// Start runs the job in a background goroutine; Wait blocks until every started job returns
func (m *Manager) Start(id string, fn RunFunc) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.Run(id, fn)
	}()
}

// Exclusive runs fn under the same concurrency gate as jobs, without registering a job.
// It returns ctx's error if the gate could not be acquired.
func (m *Manager) Exclusive(ctx context.Context, fn func(ctx context.Context)) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)
	fn(ctx)
	return nil
}

// Wait blocks until all jobs launched with Start have returned or ctx is done
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) call(ctx context.Context, fn RunFunc, p Progress) (result models.BulkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{
				"job_id":      p.id,
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in job")
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx, p)
}

func (m *Manager) markRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status != StatusPending {
		return false
	}
	e.job.Status = StatusRunning
	return true
}

// finish records a terminal status unless the job already has one
func (m *Manager) finish(id string, status Status, result *models.BulkResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status.IsTerminal() {
		return
	}
	e.job.Status = status
	e.job.CompletedAt = m.now()
	e.snap = nil
	if err != nil {
		e.job.ErrorMessage = err.Error()
	}
	if result != nil {
		e.result = result
		e.job.ProcessedURLs = result.ProcessedURLs
		e.job.TotalLinks = result.TotalVcloudLinks
		e.job.EmergencyURLs = result.EmergencyURLs
		e.job.BatchesDone = result.BatchesProcessed
	}
	e.cancel()
}

// Cancel cancels a pending or running job. The run observes the cancellation through its context.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status.IsTerminal() {
		return false
	}
	e.cancel()
	e.job.Status = StatusCancelled
	e.job.CompletedAt = m.now()
	e.snap = nil
	return true
}

// CancelAll cancels every pending or running job
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.jobs {
		if !e.job.Status.IsTerminal() {
			e.cancel()
			e.job.Status = StatusCancelled
			e.job.CompletedAt = m.now()
			e.snap = nil
		}
	}
}

// Progress publishes a running job's progress to the registry. It implements pipeline.Reporter.
type Progress struct {
	m  *Manager
	id string
}

// ReportBatch records the counters of the batch about to start
func (p Progress) ReportBatch(_ context.Context, bp models.BatchProgress) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if e, ok := p.m.jobs[p.id]; ok && !e.job.Status.IsTerminal() {
		e.job.TotalBatches = bp.TotalBatches
		e.job.BatchesDone = bp.BatchIndex - 1
		e.job.ProcessedURLs = bp.ProcessedURLs
		e.job.TotalLinks = bp.LinksSoFar
	}
	return nil
}

// Attach exposes s as the job's live progress until the job finishes
func (p Progress) Attach(s Snapshotter) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if e, ok := p.m.jobs[p.id]; ok && !e.job.Status.IsTerminal() {
		e.snap = s
	}
}

// JobID returns the id of the job this Progress reports for
func (p Progress) JobID() string {
	return p.id
}
