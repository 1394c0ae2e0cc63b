package biz

import (
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
	"github.com/nightdose/nightdose/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Orchestrator *usecase.SessionOrchestrator
	Recorder     *usecase.DiagnosticRecorder
	Limiter      *usecase.RateLimiter
	Sync         *usecase.RetryQueue // nil when remote mirroring is off
	Exporter     *usecase.Exporter
}

// Repos is the set of repositories the usecases depend on
type Repos struct {
	Session    repo.SessionRepo
	Diagnostic repo.DiagnosticRepo
	Adjunct    repo.AdjunctRepo
	Outbox     repo.OutboxRepo
	Remote     repo.RemoteRepo // nil disables the retry queue
}

// Options configures the usecases
type Options struct {
	Window    domain.DoseWindowConfig
	Night     domain.SessionConfig
	Backoff   domain.BackoffConfig
	Cooldowns map[domain.AdjunctKind]time.Duration
	Clock     domain.Clock
}

// NewUsecases wires the orchestrator and its collaborators
func NewUsecases(repos Repos, opts Options) *Usecases {
	clock := opts.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	cooldowns := opts.Cooldowns
	if cooldowns == nil {
		cooldowns = domain.DefaultAdjunctCooldowns()
	}

	recorder := usecase.NewDiagnosticRecorder(repos.Diagnostic)
	limiter := usecase.NewRateLimiter(cooldowns)

	var queue *usecase.RetryQueue
	var sink usecase.SyncSink
	if repos.Remote != nil && repos.Outbox != nil {
		queue = usecase.NewRetryQueue(repos.Outbox, repos.Remote, opts.Backoff, clock, 256)
		sink = queue
	}

	orchestrator := usecase.NewSessionOrchestrator(
		repos.Session,
		repos.Adjunct,
		recorder,
		usecase.NewUndoLedger(),
		limiter,
		sink,
		clock,
		opts.Window,
		opts.Night,
	)
	if queue != nil {
		queue.SetFailureReporter(orchestrator)
	}

	return &Usecases{
		Orchestrator: orchestrator,
		Recorder:     recorder,
		Limiter:      limiter,
		Sync:         queue,
		Exporter:     usecase.NewExporter(repos.Session, repos.Adjunct, recorder, opts.Window, clock),
	}
}
