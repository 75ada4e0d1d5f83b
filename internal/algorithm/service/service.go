package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"algohub/internal/algorithm/buildbot"
	"algohub/internal/algorithm/language"
	"algohub/internal/algorithm/model"
	"algohub/internal/algorithm/repository"
	"algohub/internal/algorithm/testbot"
	"algohub/internal/algorithm/workspace"
	appErr "algohub/pkg/errors"

	"github.com/panjf2000/ants/v2"
)

const (
	defaultBuildTimeout = 2 * time.Minute
	defaultStoreTimeout = 10 * time.Second
	defaultLockWait     = 30 * time.Second
)

// Builder compiles one submission.
type Builder interface {
	Build(ctx context.Context, req buildbot.BuildRequest) (model.BuildResult, error)
}

// Runner executes one built artifact.
type Runner interface {
	Run(ctx context.Context, req testbot.RunRequest) (model.RunResult, error)
}

// IDGenerator hands out unique ids. *sonyflake.Sonyflake satisfies it.
type IDGenerator interface {
	NextID() (uint64, error)
}

// LifecycleConfig holds tunables of the lifecycle controller.
type LifecycleConfig struct {
	UpdateFailurePolicy FailurePolicy `yaml:"updateFailurePolicy"`
	BuildWorkers        int           `yaml:"buildWorkers"`
	BuildTimeout        time.Duration `yaml:"buildTimeout"`
	StoreTimeout        time.Duration `yaml:"storeTimeout"`
	LockWait            time.Duration `yaml:"lockWait"`
}

// Config wires the controller's collaborators. Locker, Events, Archive and Pool are optional.
type Config struct {
	Store     repository.Store
	Registry  *language.Registry
	Workspace *workspace.Manager
	Builder   Builder
	Runner    Runner
	IDs       IDGenerator
	Locker    Locker
	Events    repository.EventPublisher
	Archive   repository.ArtifactArchive
	Pool      *ants.Pool
	Lifecycle LifecycleConfig
}

// Service is the submission lifecycle controller.
type Service struct {
	store     repository.Store
	registry  *language.Registry
	workspace *workspace.Manager
	builder   Builder
	runner    Runner
	ids       IDGenerator
	locker    Locker
	events    repository.EventPublisher
	archive   repository.ArtifactArchive
	pool      *ants.Pool
	cfg       LifecycleConfig
	bg        sync.WaitGroup
	// onRebuildFailure is the single place deciding the fate of a submission whose rebuild failed.
	onRebuildFailure func(ctx context.Context, sub *model.Submission, ws workspace.Workspace) error
}

func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Registry == nil:
		return nil, errors.New("language registry is required")
	case cfg.Workspace == nil:
		return nil, errors.New("workspace manager is required")
	case cfg.Builder == nil:
		return nil, errors.New("builder is required")
	case cfg.Runner == nil:
		return nil, errors.New("runner is required")
	case cfg.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	policy, err := ParseFailurePolicy(string(cfg.Lifecycle.UpdateFailurePolicy))
	if err != nil {
		return nil, err
	}
	cfg.Lifecycle.UpdateFailurePolicy = policy
	if cfg.Lifecycle.BuildTimeout <= 0 {
		cfg.Lifecycle.BuildTimeout = defaultBuildTimeout
	}
	if cfg.Lifecycle.StoreTimeout <= 0 {
		cfg.Lifecycle.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Lifecycle.LockWait <= 0 {
		cfg.Lifecycle.LockWait = defaultLockWait
	}
	if cfg.Locker == nil {
		cfg.Locker = NewKeyedLocker()
	}

	s := &Service{
		store:     cfg.Store,
		registry:  cfg.Registry,
		workspace: cfg.Workspace,
		builder:   cfg.Builder,
		runner:    cfg.Runner,
		ids:       cfg.IDs,
		locker:    cfg.Locker,
		events:    cfg.Events,
		archive:   cfg.Archive,
		pool:      cfg.Pool,
		cfg:       cfg.Lifecycle,
	}
	switch policy {
	case KeepOnFailure:
		s.onRebuildFailure = s.keepFailed
	default:
		s.onRebuildFailure = s.deleteOnFailure
	}
	return s, nil
}

// NewBuildPool creates the bounded pool builds are dispatched on. A full pool
// rejects new builds instead of queueing them without limit.
func NewBuildPool(workers int) (*ants.Pool, error) {
	if workers <= 0 {
		workers = 4
	}
	return ants.NewPool(workers, ants.WithNonblocking(false), ants.WithMaxBlockingTasks(workers*8))
}

// ListLanguages returns the supported language names in listing order.
func (s *Service) ListLanguages() []string {
	return s.registry.ListSupported()
}

func (s *Service) lock(ctx context.Context, name string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, appErr.Wrapf(err, appErr.LockFailed, "submission %s is busy", name)
		}
		return nil, appErr.Wrapf(err, appErr.LockFailed, "lock submission %s failed", name)
	}
	return unlock, nil
}

// detached returns a ctx that survives the caller's cancellation, for cleanup.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
}

// build dispatches the compile onto the pool and waits for it. The build ctx
// derives from ctx, so cancellation stops the toolchain and the wait is short.
func (s *Service) build(ctx context.Context, req buildbot.BuildRequest) (model.BuildResult, error) {
	buildCtx, cancel := context.WithTimeout(ctx, s.cfg.BuildTimeout)
	defer cancel()
	if s.pool == nil {
		return s.builder.Build(buildCtx, req)
	}

	type outcome struct {
		res model.BuildResult
		err error
	}
	done := make(chan outcome, 1)
	if err := s.pool.Submit(func() {
		res, err := s.builder.Build(buildCtx, req)
		done <- outcome{res: res, err: err}
	}); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			return model.BuildResult{}, appErr.New(appErr.BuildQueueFull)
		}
		return model.BuildResult{}, appErr.Wrapf(err, appErr.EnvironmentError, "dispatch build failed")
	}
	out := <-done
	return out.res, out.err
}

func (s *Service) nextID() (int64, error) {
	id, err := s.ids.NextID()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.InternalServerError, "allocate id failed")
	}
	return int64(id), nil
}

// paths derives the on-disk layout of a submission.
func (s *Service) paths(sub *model.Submission, backend language.Backend) (workspace.Workspace, string, string, error) {
	ws, err := s.workspace.Resolve(sub.UserID, sub.ID)
	if err != nil {
		return workspace.Workspace{}, "", "", err
	}
	src, err := s.workspace.SourcePath(ws, sub.Name, backend.SourceExtension())
	if err != nil {
		return workspace.Workspace{}, "", "", err
	}
	exe, err := s.workspace.ExecutablePath(ws, sub.Name)
	if err != nil {
		return workspace.Workspace{}, "", "", err
	}
	return ws, src, exe, nil
}

func storeError(err error, name string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrSubmissionNotFound):
		return appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", name)
	case errors.Is(err, repository.ErrNameTaken):
		return appErr.Newf(appErr.SubmissionNameTaken, "submission %s already exists", name)
	case errors.Is(err, repository.ErrTestDataNotFound):
		return appErr.New(appErr.TestDataNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return appErr.Wrap(err, appErr.Timeout)
	}
	var coded *appErr.Error
	if errors.As(err, &coded) {
		return err
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "store operation on %s failed", name)
}
