package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/safetrip/internal/catalog"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/lock"
	"github.com/timmy/safetrip/internal/logger"
	"github.com/timmy/safetrip/internal/metrics"
	"github.com/timmy/safetrip/internal/repository"
)

const (
	admissionLockKey      = "refresh-admission"
	defaultAdmissionTTL   = 30 * time.Second
	finalizeTimeout       = 15 * time.Second
	defaultOrchestratorID = "orchestrator"
)

// errCancelled stops a run at a batch boundary after a user cancel.
var errCancelled = errors.New("refresh cancelled")

// JobStore is the durable job state the orchestrator drives.
// *repository.JobRepository implements it.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.RefreshJob) error
	GetJob(ctx context.Context, id string) (*domain.RefreshJob, error)
	UpdateJob(ctx context.Context, id string, upd domain.JobUpdate) error
	UpdateCountryProgress(ctx context.Context, u repository.ProgressUpdate) (bool, error)
	ListJobs(ctx context.Context, limit int) ([]domain.RefreshJob, error)
	ListCountryProgress(ctx context.Context, jobID string) ([]domain.CountryProgress, error)
	ListRunningJobs(ctx context.Context) ([]domain.RefreshJob, error)
	HasRunningJob(ctx context.Context) (bool, error)
	CompletedOn(ctx context.Context, date string) (bool, error)
}

// OrchestratorOptions holds the optional collaborators of Orchestrator.
type OrchestratorOptions struct {
	Locker  lock.Locker // defaults to an in-process lock
	LockTTL time.Duration
	Metrics *metrics.Metrics
}

// activeJob is the in-memory side of a running job.
type activeJob struct {
	id        string
	trigger   domain.Trigger
	startedAt time.Time
	cancelled atomic.Bool
	done      chan struct{}

	mu      sync.Mutex
	current string
}

func (a *activeJob) setCurrent(country string) {
	a.mu.Lock()
	a.current = country
	a.mu.Unlock()
}

func (a *activeJob) currentCountry() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Orchestrator runs bulk refresh jobs over the country catalog.
type Orchestrator struct {
	store   JobStore
	fetcher Fetcher
	catalog *catalog.Catalog
	locker  lock.Locker
	lockTTL time.Duration
	metrics *metrics.Metrics
	logger  *logger.Logger
	cfg     config.RefreshConfig
	loc     *time.Location

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*activeJob
	closing bool
}

// NewOrchestrator creates a new Orchestrator.
// Parameters:
//   - store: durable job and progress state.
//   - fetcher: per-country fetch-and-persist step.
//   - cat: the country list to walk.
//   - cfg: batch size, retry and delay tuning.
//   - log: base logger.
//   - opts: optional locker and metrics; may be nil.
// Returns:
//   - *Orchestrator: idle orchestrator; call Resume to pick up interrupted jobs.
func NewOrchestrator(store JobStore, fetcher Fetcher, cat *catalog.Catalog, cfg config.RefreshConfig, log *logger.Logger, opts *OrchestratorOptions) *Orchestrator {
	if opts == nil {
		opts = &OrchestratorOptions{}
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = defaultAdmissionTTL
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if log == nil {
		log = logger.GetDefault()
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		catalog: cat,
		locker:  locker,
		lockTTL: ttl,
		metrics: opts.Metrics,
		logger:  log.WithField(logger.FieldComponent, defaultOrchestratorID),
		cfg:     cfg,
		loc:     cfg.Location(),
		now:     time.Now,
		sleep:   sleepCtx,
		newID:   uuid.NewString,
		baseCtx: baseCtx,
		stop:    stop,
		active:  make(map[string]*activeJob),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// today is the admission date in the configured timezone.
func (o *Orchestrator) today() string {
	return o.now().In(o.loc).Format(domain.DateLayout)
}

// backoff returns the wait after a failed attempt (1-based).
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if o.cfg.MaxDelay > 0 && d >= o.cfg.MaxDelay {
			return o.cfg.MaxDelay
		}
	}
	if o.cfg.MaxDelay > 0 && d > o.cfg.MaxDelay {
		return o.cfg.MaxDelay
	}
	return d
}

// ============================================
// Admission
// ============================================

// Start admits and launches a new refresh job over the whole catalog.
// Parameters:
//   - ctx: request context; the job itself outlives it.
//   - trigger: what started the job.
// Returns:
//   - string: id of the new job.
//   - error: ErrJobAlreadyRunning or ErrAlreadyRanToday (conflict), or a store error.
func (o *Orchestrator) Start(ctx context.Context, trigger domain.Trigger) (string, error) {
	aj, err := o.admit(ctx, trigger)
	if err != nil {
		return "", err
	}
	return aj.id, nil
}

// RunSync starts a job and waits for it to finish or for ctx to end.
func (o *Orchestrator) RunSync(ctx context.Context, trigger domain.Trigger) (domain.JobView, error) {
	aj, err := o.admit(ctx, trigger)
	if err != nil {
		return domain.JobView{}, err
	}
	select {
	case <-aj.done:
	case <-ctx.Done():
		return domain.JobView{}, ctx.Err()
	}
	return o.Status(ctx, aj.id)
}

func (o *Orchestrator) admit(ctx context.Context, trigger domain.Trigger) (*activeJob, error) {
	const op = "Start"

	unlock, err := o.locker.TryLock(ctx, admissionLockKey, o.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, domain.E(domain.KindConflict, op, domain.ErrJobAlreadyRunning)
		}
		return nil, domain.E(domain.KindTransient, op, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			o.logger.WithError(err).Warn("Failed to release admission lock")
		}
	}()

	o.mu.Lock()
	closing, busy := o.closing, len(o.active) > 0
	o.mu.Unlock()
	if closing {
		return nil, domain.Ef(domain.KindConflict, op, "orchestrator is shutting down")
	}
	if busy {
		return nil, domain.E(domain.KindConflict, op, domain.ErrJobAlreadyRunning)
	}

	running, err := o.store.HasRunningJob(ctx)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, domain.E(domain.KindConflict, op, domain.ErrJobAlreadyRunning)
	}
	ranToday, err := o.store.CompletedOn(ctx, o.today())
	if err != nil {
		return nil, err
	}
	if ranToday {
		return nil, domain.E(domain.KindConflict, op, domain.ErrAlreadyRanToday)
	}

	countries := o.catalog.AllValidCountries()
	job := &domain.RefreshJob{
		ID:             o.newID(),
		Trigger:        trigger,
		TotalCountries: len(countries),
		StartedAt:      o.now(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	aj, err := o.launch(job, countries)
	if err != nil {
		return nil, err
	}
	o.logger.WithFields(logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldTrigger: trigger,
		logger.FieldCount:   job.TotalCountries,
	}).Info("Refresh job started")
	return aj, nil
}

// launch registers job in memory and runs it in the background.
func (o *Orchestrator) launch(job *domain.RefreshJob, countries []string) (*activeJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return nil, domain.Ef(domain.KindConflict, "launch", "orchestrator is shutting down")
	}

	aj := o.register(job)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(aj, countries)
	}()
	return aj, nil
}

// register must be called with o.mu held.
func (o *Orchestrator) register(job *domain.RefreshJob) *activeJob {
	aj := &activeJob{
		id:        job.ID,
		trigger:   job.Trigger,
		startedAt: job.StartedAt,
		done:      make(chan struct{}),
	}
	o.active[job.ID] = aj
	return aj
}

func (o *Orchestrator) unregister(aj *activeJob) {
	o.mu.Lock()
	delete(o.active, aj.id)
	o.mu.Unlock()
	close(aj.done)
}

// ============================================
// Run
// ============================================

// run processes countries and finalizes the job. A panic anywhere in the run
// is turned into a failed job.
func (o *Orchestrator) run(aj *activeJob, countries []string) {
	defer o.unregister(aj)

	log := o.logger.WithField(logger.FieldJobID, aj.id)
	ctx := log.WithContext(o.baseCtx)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = o.process(ctx, aj, countries)
	}()

	o.finalize(ctx, aj, runErr)
}

func (o *Orchestrator) process(ctx context.Context, aj *activeJob, countries []string) error {
	batches := chunk(countries, o.cfg.BatchSize)

	for i, batch := range batches {
		if aj.cancelled.Load() {
			return errCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			wg      sync.WaitGroup
			errMu   sync.Mutex
			failure error
		)
		for _, country := range batch {
			wg.Add(1)
			go func(country string) {
				defer wg.Done()
				err := o.safeProcessCountry(ctx, aj, country)
				if err != nil {
					errMu.Lock()
					if failure == nil {
						failure = err
					}
					errMu.Unlock()
				}
			}(country)
		}
		wg.Wait()
		if failure != nil {
			return failure
		}

		logger.FromContext(ctx).WithFields(logger.Fields{
			"batch":   i + 1,
			"batches": len(batches),
		}).Debug("Batch settled")

		if i < len(batches)-1 {
			if err := o.sleep(ctx, o.cfg.BatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) safeProcessCountry(ctx context.Context, aj *activeJob, country string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", country, r)
		}
	}()
	return o.processCountry(ctx, aj, country)
}

// processCountry fetches one country with retries and records its outcome.
// It returns an error only for store failures or a stopped run; a country
// that exhausts its attempts is a recorded failure, not an error.
func (o *Orchestrator) processCountry(ctx context.Context, aj *activeJob, country string) error {
	aj.setCurrent(country)
	log := logger.FromContext(ctx).WithField(logger.FieldCountry, country)

	if _, err := o.store.UpdateCountryProgress(ctx, repository.ProgressUpdate{
		JobID:   aj.id,
		Country: country,
		Status:  domain.ProgressProcessing,
	}); err != nil {
		return err
	}

	var (
		fetchErr error
		attempts int
	)
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		attempts = attempt
		fetchErr = o.fetchOnce(ctx, country)
		o.metrics.FetchAttempt(fetchErr)
		if fetchErr == nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if domain.IsKind(fetchErr, domain.KindInvalid) {
			break
		}
		if attempt < o.cfg.MaxRetries {
			wait := o.backoff(attempt)
			log.WithError(fetchErr).WithFields(logger.Fields{
				logger.FieldAttempt: attempt,
				"retry_in":          wait.String(),
			}).Warn("Country fetch failed, retrying")
			if err := o.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	status := domain.ProgressCompleted
	msg := ""
	if fetchErr != nil {
		status = domain.ProgressFailed
		msg = domain.SanitizeMessage(fetchErr.Error())
	}
	if _, err := o.store.UpdateCountryProgress(ctx, repository.ProgressUpdate{
		JobID:      aj.id,
		Country:    country,
		Status:     status,
		Error:      msg,
		RetryCount: attempts - 1,
	}); err != nil {
		return err
	}
	o.metrics.CountryOutcome(string(status))

	if fetchErr != nil {
		log.WithError(fetchErr).WithField(logger.FieldAttempt, attempts).Error("Country failed")
		err := o.store.UpdateJob(ctx, aj.id, domain.JobUpdate{
			AppendError: &domain.ErrorEntry{Country: country, Error: msg, At: o.now()},
		})
		if err != nil && !errors.Is(err, domain.ErrJobTerminal) {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) fetchOnce(ctx context.Context, country string) error {
	done := o.metrics.FetchStarted()
	defer done()

	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}
	return o.fetcher.FetchCountryData(ctx, country)
}

// finalize writes the terminal state for runErr. A run stopped by Shutdown
// stays running so the next Resume picks it up.
func (o *Orchestrator) finalize(runCtx context.Context, aj *activeJob, runErr error) {
	log := logger.FromContext(runCtx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), finalizeTimeout)
	defer cancel()

	now := o.now()
	var (
		status domain.JobStatus
		upd    domain.JobUpdate
	)

	switch {
	case errors.Is(runErr, errCancelled):
		o.finished(aj, domain.JobStatusCancelled, now)
		log.Info("Refresh job cancelled")
		return
	case runErr != nil && o.baseCtx.Err() != nil:
		log.Warn("Refresh job interrupted by shutdown, left running for resume")
		return
	case runErr != nil:
		status = domain.JobStatusFailed
		upd = domain.JobUpdate{
			Status:      &status,
			CompletedAt: &now,
			AppendError: &domain.ErrorEntry{Country: domain.SystemCountry, Error: runErr.Error(), At: now},
		}
	default:
		status = domain.JobStatusCompleted
		date := now.In(o.loc).Format(domain.DateLayout)
		upd = domain.JobUpdate{Status: &status, CompletedAt: &now, LastRunDate: &date}
	}

	if err := o.store.UpdateJob(ctx, aj.id, upd); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			// Cancelled while the last batch was in flight.
			o.finished(aj, domain.JobStatusCancelled, now)
			log.Info("Refresh job cancelled")
			return
		}
		log.WithError(err).Error("Failed to finalize refresh job")
		return
	}
	o.finished(aj, status, now)

	entry := log.WithField(logger.FieldStatus, status)
	if runErr != nil {
		entry.WithError(runErr).Error("Refresh job failed")
		return
	}
	entry.Info("Refresh job completed")
}

func (o *Orchestrator) finished(aj *activeJob, status domain.JobStatus, at time.Time) {
	o.metrics.JobFinished(string(status), string(aj.trigger), at.Sub(aj.startedAt))
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// ============================================
// Control
// ============================================

// Cancel stops a running job at the next batch boundary. The cancelled
// status is persisted immediately.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to cancel.
// Returns:
//   - error: ErrJobNotFound, or ErrJobNotRunning if the job already finished.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	const op = "Cancel"

	o.mu.Lock()
	aj := o.active[jobID]
	o.mu.Unlock()

	if aj == nil {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusRunning {
			return domain.E(domain.KindNotFound, op, domain.ErrJobNotRunning)
		}
	} else {
		aj.cancelled.Store(true)
	}

	status := domain.JobStatusCancelled
	now := o.now()
	if err := o.store.UpdateJob(ctx, jobID, domain.JobUpdate{Status: &status, CompletedAt: &now}); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			return domain.E(domain.KindNotFound, op, domain.ErrJobNotRunning)
		}
		return err
	}

	o.logger.WithField(logger.FieldJobID, jobID).Info("Refresh job cancellation requested")
	return nil
}

// Status returns the durable job state with the in-memory current country.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (domain.JobView, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobView{}, err
	}
	current := ""
	if job.Status == domain.JobStatusRunning {
		o.mu.Lock()
		if aj, ok := o.active[jobID]; ok {
			current = aj.currentCountry()
		}
		o.mu.Unlock()
	}
	return domain.NewJobView(job, current), nil
}

// History returns recent jobs, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]domain.JobView, error) {
	jobs, err := o.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]domain.JobView, len(jobs))
	for i := range jobs {
		views[i] = domain.NewJobView(&jobs[i], "")
	}
	return views, nil
}

// ActiveJobID returns the id of the job running in this process, if any.
func (o *Orchestrator) ActiveJobID() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.active {
		return id, true
	}
	return "", false
}

// ============================================
// Recovery and lifecycle
// ============================================

// Resume picks up every job left running by a previous process. Jobs are
// resumed one after another in the background, oldest first, each with only
// the countries that have no terminal outcome yet.
// Returns:
//   - int: number of jobs found for resumption.
//   - error: non-nil if the running jobs cannot be listed.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	jobs, err := o.store.ListRunningJobs(ctx)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return 0, domain.Ef(domain.KindConflict, "Resume", "orchestrator is shutting down")
	}

	orphans := jobs[:0]
	for _, job := range jobs {
		if _, ok := o.active[job.ID]; !ok {
			orphans = append(orphans, job)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for i := range orphans {
			if o.baseCtx.Err() != nil {
				return
			}
			o.resumeJob(&orphans[i])
		}
	}()
	return len(orphans), nil
}

func (o *Orchestrator) resumeJob(job *domain.RefreshJob) {
	log := o.logger.WithField(logger.FieldJobID, job.ID)
	ctx := log.WithContext(o.baseCtx)

	current, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		log.WithError(err).Error("Failed to reload job for resume")
		return
	}
	if current.Status != domain.JobStatusRunning {
		return
	}

	rows, err := o.store.ListCountryProgress(ctx, job.ID)
	if err != nil {
		log.WithError(err).Error("Failed to load progress for resume")
		return
	}
	settled := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.Status.IsTerminal() {
			settled[row.CountryName] = true
		}
	}
	var remaining []string
	for _, c := range o.catalog.AllValidCountries() {
		if !settled[c] {
			remaining = append(remaining, c)
		}
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return
	}
	aj := o.register(job)
	o.mu.Unlock()

	log.WithFields(logger.Fields{
		"remaining": len(remaining),
		"settled":   len(settled),
	}).Info("Resuming refresh job")

	if len(remaining) == 0 {
		defer o.unregister(aj)
		o.finalize(ctx, aj, nil)
		return
	}
	o.run(aj, remaining)
}

// Wait blocks until every run and resume started so far has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting jobs, interrupts the running ones and waits for
// them. Interrupted jobs stay running in the store.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
