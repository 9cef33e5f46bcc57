// Package scheduler drives a workflow graph to a terminal state:
// parallel dispatch under a concurrency budget, result caching,
// quality gating, bounded retries and failure cascades.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/tandemflow/tandem/pkg/a2a"
	"github.com/tandemflow/tandem/pkg/cache"
	"github.com/tandemflow/tandem/pkg/graph"
	"github.com/tandemflow/tandem/pkg/observability"
	"github.com/tandemflow/tandem/pkg/quality"
)

// Invoker dispatches one unit of work to a named agent. The scheduler
// never talks to the wire itself.
type Invoker interface {
	Invoke(ctx context.Context, agentName string, input *a2a.Envelope) (*a2a.Envelope, error)
}

// FailureMode decides how far a node failure cascades.
type FailureMode string

const (
	// FailureStrict skips every transitive dependent of a failed node
	// and makes the whole run fail.
	FailureStrict FailureMode = "strict"

	// FailureLenient skips only direct dependents; independent branches
	// keep running and the run completes with partial failures.
	FailureLenient FailureMode = "lenient"
)

// Metadata keys attached to retried inputs and growth outputs.
const (
	MetadataRetryReason = "retryReason"
	MetadataAttempt     = "attempt"
	MetadataFollowUps   = "followUpTasks"
)

// Config holds scheduler knobs.
type Config struct {
	// MaxParallel bounds concurrently running nodes.
	MaxParallel int

	// RetryBudget is the number of retries after the first attempt, so a
	// node is invoked at most 1+RetryBudget times.
	RetryBudget int

	// FailureMode is strict or lenient.
	FailureMode FailureMode

	// NodeTimeout bounds one invocation attempt; zero disables it. A
	// node timeout counts as a transient failure.
	NodeTimeout time.Duration

	// BaseBackoff is the first retry delay; doubles per retry.
	BaseBackoff time.Duration

	// CacheNamespace scopes cache fingerprints; empty means per-run
	// (the run id), so a fresh run never sees another run's entries.
	CacheNamespace string

	// CacheTTL is the lifetime of cached results.
	CacheTTL time.Duration
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 0
	}
	if c.FailureMode == "" {
		c.FailureMode = FailureStrict
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
}

// Validate rejects unusable configurations.
func (c *Config) Validate() error {
	if c.FailureMode != FailureStrict && c.FailureMode != FailureLenient {
		return fmt.Errorf("invalid failure mode: %s", c.FailureMode)
	}
	return nil
}

// RunStatus is the terminal verdict of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Report is the outcome of one run.
type Report struct {
	RunID      string
	Status     RunStatus
	Completed  []string
	Failed     []string
	Skipped    []string
	NodeErrors map[string]error
	CacheHits  int
	Duration   time.Duration
}

// Scheduler executes workflow graphs. Safe for concurrent runs over
// distinct graphs.
type Scheduler struct {
	cfg     Config
	invoker Invoker
	store   cache.Store
	gate    *quality.Gate
	metrics *observability.Metrics
	logger  *slog.Logger

	flight singleflight.Group
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithCache enables result caching through the store.
func WithCache(store cache.Store) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithGate enables quality gating of agent results.
func WithGate(g *quality.Gate) Option {
	return func(s *Scheduler) { s.gate = g }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the run logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler.
func New(cfg Config, invoker Invoker, opts ...Option) (*Scheduler, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	s := &Scheduler{
		cfg:     cfg,
		invoker: invoker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type nodeResult struct {
	id       string
	output   *a2a.Envelope
	err      error
	attempts int
	cacheHit bool
}

// Run drives the graph until no node is Running or dispatchable. The
// returned report is always non-nil; in strict mode a failed run also
// returns an aggregate error.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) (*Report, error) {
	started := time.Now()
	runID := uuid.New().String()
	namespace := s.cfg.CacheNamespace
	if namespace == "" {
		namespace = runID
	}

	log := s.logger.With("run_id", runID)
	log.Info("run started", "nodes", g.Len(), "max_parallel", s.cfg.MaxParallel,
		"failure_mode", string(s.cfg.FailureMode))

	sem := semaphore.NewWeighted(int64(s.cfg.MaxParallel))
	results := make(chan nodeResult)

	report := &Report{
		RunID:      runID,
		NodeErrors: make(map[string]error),
	}

	inFlight := 0
	cancelled := false
	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
		}
		if !cancelled {
			inFlight += s.dispatch(ctx, g, sem, results, runID, namespace, log)
		}
		if inFlight == 0 {
			break
		}

		res := <-results
		inFlight--
		s.settle(ctx, g, res, report, log)
	}

	s.sweepUnreachable(g, report, log)
	s.summarize(g, report)
	report.Duration = time.Since(started)

	switch {
	case cancelled:
		report.Status = RunCancelled
	case len(report.Failed) == 0:
		report.Status = RunCompleted
	case s.cfg.FailureMode == FailureLenient:
		report.Status = RunPartial
	default:
		report.Status = RunFailed
	}

	log.Info("run finished", "status", string(report.Status),
		"completed", len(report.Completed), "failed", len(report.Failed),
		"skipped", len(report.Skipped), "cache_hits", report.CacheHits,
		"duration", report.Duration)

	if report.Status == RunFailed {
		return report, fmt.Errorf("run %s failed: %d of %d nodes failed",
			runID, len(report.Failed), g.Len())
	}
	if cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// dispatch starts every ready node the budget allows and returns how
// many were started. Nodes left Ready when the budget runs out are
// picked up on the next pass.
func (s *Scheduler) dispatch(ctx context.Context, g *graph.Graph, sem *semaphore.Weighted,
	results chan<- nodeResult, runID, namespace string, log *slog.Logger) int {

	started := 0
	for n := range g.Ready() {
		if !sem.TryAcquire(1) {
			break
		}
		if err := g.SetStatus(n.ID, graph.StatusRunning); err != nil {
			// Already picked up by an earlier pass.
			sem.Release(1)
			continue
		}
		s.metrics.NodeDispatched()
		started++

		node := n
		go func() {
			res := s.runNode(ctx, node, runID, namespace, log)
			// Free the slot before publishing the result so the next
			// dispatch pass never sees a stale budget.
			sem.Release(1)
			results <- res
		}()
	}
	return started
}

// runNode executes one node end to end: cache lookup, deduplicated
// invocation with retries, quality gate, cache write. The cache
// fingerprint is computed before the run context id is stamped so
// identical work fingerprints identically across runs.
func (s *Scheduler) runNode(ctx context.Context, n *graph.Node, runID, namespace string, log *slog.Logger) nodeResult {
	res := nodeResult{id: n.ID, attempts: 1}

	var fp string
	if s.store != nil && !n.NoCache {
		input, err := json.Marshal(n.Input)
		if err != nil {
			res.err = fmt.Errorf("failed to fingerprint input: %w", err)
			return res
		}
		fp = cache.Fingerprint(namespace, n.ID, input)

		if cached, ok, err := s.store.Get(ctx, fp); err != nil {
			log.Warn("cache lookup failed", "node", n.ID, "error", err)
		} else if ok {
			var env a2a.Envelope
			if err := json.Unmarshal(cached, &env); err == nil {
				s.metrics.CacheHit()
				res.output = &env
				res.cacheHit = true
				return res
			}
			log.Warn("cache entry undecodable, treating as miss", "node", n.ID)
		}
		s.metrics.CacheMiss()

		// At most one concurrent compute per fingerprint; latecomers
		// share the winner's result.
		v, err, _ := s.flight.Do(fp, func() (interface{}, error) {
			out, attempts, ierr := s.invokeWithRetry(ctx, n, runID, log)
			if ierr != nil {
				return attempts, ierr
			}
			s.writeCache(ctx, fp, out, log)
			return out, nil
		})
		if err != nil {
			if attempts, ok := v.(int); ok {
				res.attempts = attempts
			}
			res.err = err
			return res
		}
		res.output = v.(*a2a.Envelope)
		return res
	}

	out, attempts, err := s.invokeWithRetry(ctx, n, runID, log)
	res.attempts = attempts
	res.output = out
	res.err = err
	return res
}

func (s *Scheduler) writeCache(ctx context.Context, fp string, out *a2a.Envelope, log *slog.Logger) {
	payload, err := json.Marshal(out)
	if err != nil {
		log.Warn("failed to encode result for cache", "error", err)
		return
	}
	if err := s.store.Set(ctx, fp, payload, s.cfg.CacheTTL); err != nil {
		log.Warn("cache write failed", "error", err)
	}
}

// invokeWithRetry invokes the agent up to 1+RetryBudget times with
// exponential backoff, re-gating each result. Returns the attempts made.
func (s *Scheduler) invokeWithRetry(ctx context.Context, n *graph.Node, runID string, log *slog.Logger) (*a2a.Envelope, int, error) {
	base := n.Input
	if base != nil && base.ContextID == "" {
		base = base.Clone()
		base.ContextID = runID
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.cfg.RetryBudget; attempt++ {
		if attempt > 0 {
			s.metrics.NodeRetried()
			delay := s.cfg.BaseBackoff << (attempt - 1)
			log.Debug("retrying node", "node", n.ID, "attempt", attempt+1, "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, attempts, ctx.Err()
			}
			timer.Stop()
		}
		attempts++

		input := base
		if attempt > 0 && lastErr != nil && base != nil {
			input = base.Clone()
			input.SetMetadata(MetadataRetryReason, lastErr.Error())
			input.SetMetadata(MetadataAttempt, attempt+1)
		}

		out, err := s.invokeOnce(ctx, n, input)
		if err == nil {
			return out, attempts, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, attempts, lastErr
}

// invokeOnce makes a single gated invocation under the node timeout.
func (s *Scheduler) invokeOnce(ctx context.Context, n *graph.Node, input *a2a.Envelope) (*a2a.Envelope, error) {
	actx := ctx
	if s.cfg.NodeTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, s.cfg.NodeTimeout)
		defer cancel()
	}

	out, err := s.invoker.Invoke(actx, n.Agent, input)
	if err != nil {
		if actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("node timed out after %v: %w", s.cfg.NodeTimeout, errNodeTimeout)
		}
		var perr *a2a.ProtocolError
		if errors.As(err, &perr) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &NodeExecutionError{NodeID: n.ID, Agent: n.Agent, Err: err}
	}

	if s.gate != nil {
		report, gerr := s.gate.Check(ctx, out)
		if report != nil {
			s.metrics.QualityVerdict(string(report.Level))
		}
		if gerr != nil {
			return nil, gerr
		}
	}
	return out, nil
}

var errNodeTimeout = errors.New("node timeout")

// NodeExecutionError wraps an opaque agent-side failure: anything the
// agent reported that is not a protocol-layer or quality failure.
type NodeExecutionError struct {
	NodeID string
	Agent  string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (agent %s) failed: %v", e.NodeID, e.Agent, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// retryable reports whether the failure may succeed on a later attempt.
// Quality failures, transient protocol errors and node timeouts retry;
// everything else fails the node immediately.
func retryable(err error) bool {
	if errors.Is(err, errNodeTimeout) {
		return true
	}
	var gerr *quality.GateError
	if errors.As(err, &gerr) {
		return true
	}
	var perr *a2a.ProtocolError
	if errors.As(err, &perr) {
		return perr.Transient()
	}
	return false
}

// settle applies one node result to the graph: status transition,
// failure cascade and dynamic growth.
func (s *Scheduler) settle(ctx context.Context, g *graph.Graph, res nodeResult, report *Report, log *slog.Logger) {
	if res.err != nil {
		s.metrics.NodeFailed()
		report.NodeErrors[res.id] = res.err
		if err := g.SetStatus(res.id, graph.StatusFailed,
			graph.WithError(res.err), graph.WithAttempts(res.attempts)); err != nil {
			log.Error("failed to record node failure", "node", res.id, "error", err)
		}
		log.Warn("node failed", "node", res.id, "attempts", res.attempts, "error", res.err)
		s.cascade(g, res.id, report, log)
		return
	}

	s.metrics.NodeCompleted()
	if res.cacheHit {
		report.CacheHits++
	}
	if err := g.SetStatus(res.id, graph.StatusCompleted,
		graph.WithOutput(res.output), graph.WithAttempts(res.attempts)); err != nil {
		log.Error("failed to record node completion", "node", res.id, "error", err)
		return
	}
	log.Debug("node completed", "node", res.id, "attempts", res.attempts, "cache_hit", res.cacheHit)

	// Growth from a cancelled run is left inert.
	if ctx.Err() == nil {
		s.grow(g, res.id, res.output, log)
	}
}

// cascade skips dependents of a failed node per the failure mode.
func (s *Scheduler) cascade(g *graph.Graph, failedID string, report *Report, log *slog.Logger) {
	var victims []string
	if s.cfg.FailureMode == FailureStrict {
		victims = g.TransitiveDependents(failedID)
	} else {
		victims = g.Dependents(failedID)
	}

	cause := fmt.Errorf("upstream node %s failed", failedID)
	for _, id := range victims {
		n, ok := g.Node(id)
		if !ok || n.Status.Terminal() || n.Status == graph.StatusRunning ||
			n.Status == graph.StatusFailed {
			continue
		}
		if err := g.SetStatus(id, graph.StatusSkipped, graph.WithError(cause)); err != nil {
			log.Error("failed to skip dependent", "node", id, "error", err)
			continue
		}
		s.metrics.NodeSkipped()
		log.Debug("node skipped", "node", id, "cause", failedID)
	}
}

// sweepUnreachable marks nodes that can never run (an unsatisfiable
// dependency under the active policy) as Skipped so the report has no
// dangling Pending entries.
func (s *Scheduler) sweepUnreachable(g *graph.Graph, report *Report, log *slog.Logger) {
	for _, n := range g.Nodes() {
		if n.Status != graph.StatusPending && n.Status != graph.StatusReady {
			continue
		}
		if err := g.SetStatus(n.ID, graph.StatusSkipped,
			graph.WithError(errors.New("unreachable: upstream never completed"))); err != nil {
			log.Error("failed to skip unreachable node", "node", n.ID, "error", err)
			continue
		}
		s.metrics.NodeSkipped()
	}
}

func (s *Scheduler) summarize(g *graph.Graph, report *Report) {
	for _, n := range g.Nodes() {
		switch n.Status {
		case graph.StatusCompleted:
			report.Completed = append(report.Completed, n.ID)
		case graph.StatusFailed:
			report.Failed = append(report.Failed, n.ID)
			if _, ok := report.NodeErrors[n.ID]; !ok && n.LastErr != nil {
				report.NodeErrors[n.ID] = n.LastErr
			}
		case graph.StatusSkipped:
			report.Skipped = append(report.Skipped, n.ID)
		}
	}
	sort.Strings(report.Completed)
	sort.Strings(report.Failed)
	sort.Strings(report.Skipped)
}
