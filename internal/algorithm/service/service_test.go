package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"algohub/internal/algorithm/buildbot"
	"algohub/internal/algorithm/language"
	"algohub/internal/algorithm/model"
	"algohub/internal/algorithm/repository"
	"algohub/internal/algorithm/sandbox/result"
	"algohub/internal/algorithm/testbot"
	"algohub/internal/algorithm/workspace"
	appErr "algohub/pkg/errors"
)

const badSource = "syntax error"

// fakeBackend fails to compile any source containing badSource.
type fakeBackend struct {
	name string
	ext  string
}

func (f fakeBackend) Name() string            { return f.name }
func (f fakeBackend) SourceExtension() string { return f.ext }

func (f fakeBackend) Compile(ctx context.Context, src, bin, opts string) (result.RunResult, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return result.RunResult{}, err
	}
	if strings.Contains(string(data), badSource) {
		return result.RunResult{ExitCode: 1, Stderr: []byte("error: expected ';'")}, nil
	}
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		return result.RunResult{}, err
	}
	return result.RunResult{Stdout: []byte("ok")}, nil
}

func (f fakeBackend) LaunchCommand(bin string, args []string) ([]string, error) {
	return append([]string{bin}, args...), nil
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []testbot.RunRequest
}

func (r *fakeRunner) Run(ctx context.Context, req testbot.RunRequest) (model.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return model.RunResult{Status: appErr.Success, Stdout: string(req.Stdin)}, nil
}

type seqIDs struct{ n atomic.Uint64 }

func (s *seqIDs) NextID() (uint64, error) { return s.n.Add(1), nil }

type fakeEvents struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (f *fakeEvents) PublishLifecycle(ctx context.Context, e model.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeArchive struct {
	mu       sync.Mutex
	archived map[string][]byte
	removed  []int64
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{archived: make(map[string][]byte)}
}

func (a *fakeArchive) Key(userID string, id int64, name string) string {
	return fmt.Sprintf("%s/%d/%s", userID, id, name)
}

func (a *fakeArchive) Archive(ctx context.Context, userID string, id int64, name, exe string) (string, error) {
	data, err := os.ReadFile(exe)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := a.Key(userID, id, name)
	a.archived[key] = data
	return key, nil
}

func (a *fakeArchive) Restore(ctx context.Context, key, exe string) error {
	a.mu.Lock()
	data, ok := a.archived[key]
	a.mu.Unlock()
	if !ok {
		return errors.New("no such artifact")
	}
	return os.WriteFile(exe, data, 0o755)
}

func (a *fakeArchive) Remove(ctx context.Context, userID string, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, id)
	prefix := fmt.Sprintf("%s/%d/", userID, id)
	for key := range a.archived {
		if strings.HasPrefix(key, prefix) {
			delete(a.archived, key)
		}
	}
	return nil
}

func (a *fakeArchive) keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.archived))
	for key := range a.archived {
		out = append(out, key)
	}
	return out
}

// failingDeleteStore makes rollback fail.
type failingDeleteStore struct {
	*repository.MemoryStore
}

func (s failingDeleteStore) DeleteSubmission(ctx context.Context, id int64) error {
	return errors.New("connection reset")
}

type harness struct {
	svc    *Service
	store  *repository.MemoryStore
	ws     *workspace.Manager
	runner *fakeRunner
	events *fakeEvents
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	reg, err := language.NewRegistry(fakeBackend{name: "cpp", ext: "cpp"}, fakeBackend{name: "fp", ext: "pas"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ws, err := workspace.NewManager(t.TempDir(), "")
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	runner := &fakeRunner{}
	events := &fakeEvents{}
	cfg := Config{
		Store:     store,
		Registry:  reg,
		Workspace: ws,
		Builder:   buildbot.New(buildbot.Config{}),
		Runner:    runner,
		IDs:       &seqIDs{},
		Events:    events,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return &harness{svc: svc, store: store, ws: ws, runner: runner, events: events}
}

func createReq(name, source string) CreateRequest {
	return CreateRequest{
		Name:       name,
		UserID:     "u1",
		Language:   "cpp",
		SourceCode: []byte(source),
		Tags:       []string{"graph", "bfs"},
		TestData:   &TestDataInput{RunOptions: "--fast 3", Input: []byte("1 2\n")},
	}
}

func TestCreateSuccessLeavesOneRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, createReq("dijkstra", "int main(){}"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != appErr.Success || res.Stdout != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
	names, _ := h.svc.ListNames(ctx)
	if len(names) != 1 || names[0] != "dijkstra" {
		t.Fatalf("expected one record, got %v", names)
	}
	sub, err := h.svc.Get(ctx, "dijkstra")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	wsDir, _ := h.ws.Resolve(sub.UserID, sub.ID)
	exe, _ := h.ws.ExecutablePath(wsDir, sub.Name)
	if info, err := os.Stat(exe); err != nil || info.Mode()&0o111 == 0 {
		t.Fatalf("expected invocable artifact at %s: %v", exe, err)
	}
	status, err := h.svc.Status(ctx, "dijkstra")
	if err != nil || status.Phase != model.PhaseBuilt {
		t.Fatalf("expected built status, got %+v, %v", status, err)
	}
}

func TestCreateCompileFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.Create(ctx, createReq("broken", badSource))
	if err != nil {
		t.Fatalf("compile failure must not be an error: %v", err)
	}
	if res.Status != appErr.BuildFailed || !strings.Contains(res.Stderr, "expected") {
		t.Fatalf("expected BuildFailed with diagnostics, got %+v", res)
	}
	subs, _ := h.svc.List(ctx)
	if len(subs) != 0 {
		t.Fatalf("expected no records, got %d", len(subs))
	}
	if n := h.store.TagCount(); n != 0 {
		t.Fatalf("expected orphan tags dropped, got %d", n)
	}
	// ids are sequential: 1 submission, 2 status, 3 test data
	if _, err := h.store.GetStatus(ctx, 2); !errors.Is(err, repository.ErrStatusNotFound) {
		t.Fatalf("expected status released, got %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); !errors.Is(err, repository.ErrTestDataNotFound) {
		t.Fatalf("expected test data released, got %v", err)
	}
	ws, _ := h.ws.Resolve("u1", 1)
	if _, err := os.Stat(ws.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected workspace removed, got %v", err)
	}

	// the name is free again
	if _, err := h.svc.Create(ctx, createReq("broken", "int main(){}")); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestCreateUnknownLanguageHasNoSideEffects(t *testing.T) {
	h := newHarness(t, nil)
	req := createReq("x", "int main(){}")
	req.Language = "cobol"
	res, err := h.svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != appErr.LanguageNotFound {
		t.Fatalf("expected LanguageNotFound, got %v", res.Status)
	}
	if subs, _ := h.svc.List(context.Background()); len(subs) != 0 {
		t.Fatalf("expected no records")
	}
	assertNoWorkspaces(t, h)
	if _, err := h.store.GetTestData(context.Background(), 3); !errors.Is(err, repository.ErrTestDataNotFound) {
		t.Fatalf("expected no test data saved, got %v", err)
	}
}

func assertNoWorkspaces(t *testing.T, h *harness) {
	t.Helper()
	entries, err := os.ReadDir(h.ws.Root())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read workspace root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no workspace directories, got %d entries", len(entries))
	}
}

func TestCreateRejectsBadName(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Create(context.Background(), createReq("../etc", "int main(){}"))
	if appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("dup", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := h.svc.Create(ctx, createReq("dup", "int main(){}"))
	if appErr.GetCode(err) != appErr.SubmissionNameTaken {
		t.Fatalf("expected SubmissionNameTaken, got %v", err)
	}
	if subs, _ := h.svc.List(ctx); len(subs) != 1 {
		t.Fatalf("expected the first record to survive, got %d", len(subs))
	}
}

func TestCreateRollbackFailureIsReported(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Store = failingDeleteStore{MemoryStore: repository.NewMemoryStore()}
	})
	res, err := h.svc.Create(context.Background(), createReq("stuck", badSource))
	if res.Status != appErr.BuildFailed {
		t.Fatalf("expected build result kept, got %+v", res)
	}
	if appErr.GetCode(err) != appErr.RollbackFailed {
		t.Fatalf("expected RollbackFailed, got %v", err)
	}
	if !appErr.HasCode(err, appErr.BuildFailed) {
		t.Fatalf("expected the build failure to be joined, got %v", err)
	}
}

func TestUpdateFailureDeletesByDefault(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("sort", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := h.svc.Update(ctx, "sort", UpdateRequest{SourceCode: []byte(badSource)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Status != appErr.BuildFailed {
		t.Fatalf("expected BuildFailed, got %v", res.Status)
	}
	if _, err := h.svc.Get(ctx, "sort"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected submission gone after failed update, got %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); !errors.Is(err, repository.ErrTestDataNotFound) {
		t.Fatalf("expected test data released, got %v", err)
	}
}

func TestUpdateFailureKeepPolicy(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Lifecycle.UpdateFailurePolicy = KeepOnFailure
	})
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("sort", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	desc := "rewritten"
	res, err := h.svc.Update(ctx, "sort", UpdateRequest{Description: &desc, SourceCode: []byte(badSource)})
	if err != nil || res.Status != appErr.BuildFailed {
		t.Fatalf("expected BuildFailed, got %+v, %v", res, err)
	}
	sub, err := h.svc.Get(ctx, "sort")
	if err != nil {
		t.Fatalf("expected record kept: %v", err)
	}
	if string(sub.SourceCode) != "int main(){}" || sub.Description == desc {
		t.Fatalf("expected previous version kept, got %+v", sub)
	}
	status, _ := h.svc.Status(ctx, "sort")
	if status == nil || status.Phase != model.PhaseFailed || status.Code != appErr.BuildFailed {
		t.Fatalf("expected failed status, got %+v", status)
	}
}

func TestUpdateSuccessReplacesTagsAndFields(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("knap", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	tags := []string{"dp"}
	lang := "fp"
	price := int64(500)
	res, err := h.svc.Update(ctx, "knap", UpdateRequest{
		Language:   &lang,
		SourceCode: []byte("begin end."),
		Price:      &price,
		Tags:       &tags,
	})
	if err != nil || !res.OK() {
		t.Fatalf("update: %+v, %v", res, err)
	}
	sub, _ := h.svc.Get(ctx, "knap")
	if sub.Language != "fp" || sub.Price != 500 || len(sub.Tags) != 1 || sub.Tags[0] != "dp" {
		t.Fatalf("unexpected record %+v", sub)
	}
	if byOld, _ := h.svc.ListNamesByTag(ctx, "graph"); len(byOld) != 0 {
		t.Fatalf("expected old tag links dropped, got %v", byOld)
	}
	if h.store.TagCount() != 1 {
		t.Fatalf("expected orphan tags collected, got %d", h.store.TagCount())
	}
	ws, _ := h.ws.Resolve(sub.UserID, sub.ID)
	if _, err := os.Stat(filepath.Join(ws.Dir, "knap.cpp")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected previous source removed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Dir, "knap.pas")); err != nil {
		t.Fatalf("expected new source: %v", err)
	}
}

func TestUpdateUnknownLanguageKeepsRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("bfs", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	lang := "cobol"
	res, err := h.svc.Update(ctx, "bfs", UpdateRequest{Language: &lang})
	if err != nil || res.Status != appErr.LanguageNotFound {
		t.Fatalf("expected LanguageNotFound, got %+v, %v", res, err)
	}
	sub, err := h.svc.Get(ctx, "bfs")
	if err != nil || sub.Language != "cpp" {
		t.Fatalf("expected record unchanged, got %+v, %v", sub, err)
	}
}

func TestUpdateMissing(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Update(context.Background(), "ghost", UpdateRequest{})
	if appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestRemoveReleasesEverything(t *testing.T) {
	archive := newFakeArchive()
	h := newHarness(t, func(cfg *Config) { cfg.Archive = archive })
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("gone", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.svc.Close()
	if err := h.svc.Remove(ctx, "gone"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.svc.Close()

	if _, err := h.store.GetStatus(ctx, 2); !errors.Is(err, repository.ErrStatusNotFound) {
		t.Fatalf("expected status released, got %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); !errors.Is(err, repository.ErrTestDataNotFound) {
		t.Fatalf("expected test data released, got %v", err)
	}
	ws, _ := h.ws.Resolve("u1", 1)
	if _, err := os.Stat(ws.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected workspace removed")
	}
	if len(archive.removed) != 1 {
		t.Fatalf("expected archive removal, got %v", archive.removed)
	}
	if err := h.svc.Remove(ctx, "gone"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected SubmissionNotFound on second remove, got %v", err)
	}
	types := h.events.types()
	if len(types) != 2 || types[0] != model.EventBuildSucceeded || types[1] != model.EventRemoved {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestRunPassesTestData(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("echo", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := h.svc.Run(ctx, "echo")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "1 2\n" {
		t.Fatalf("expected stdin forwarded, got %q", res.Stdout)
	}
	req := h.runner.reqs[0]
	if req.RunOptions != "--fast 3" || req.Launcher.Name() != "cpp" {
		t.Fatalf("unexpected run request %+v", req)
	}
	if filepath.Base(req.ExecutablePath) != "echo.exe" {
		t.Fatalf("unexpected executable %s", req.ExecutablePath)
	}
}

func TestRunRestoresArchivedArtifact(t *testing.T) {
	archive := newFakeArchive()
	h := newHarness(t, func(cfg *Config) { cfg.Archive = archive })
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("lost", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.svc.Close()

	ws, _ := h.ws.Resolve("u1", 1)
	if err := os.RemoveAll(ws.Dir); err != nil {
		t.Fatalf("remove workspace: %v", err)
	}
	if _, err := h.svc.Run(ctx, "lost"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(h.runner.reqs[0].ExecutablePath); err != nil {
		t.Fatalf("expected artifact restored: %v", err)
	}
}

func TestSearchExactlyOne(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, name := range []string{"quick_sort", "merge-sort", "heap-sort", "binary-search"} {
		if _, err := h.svc.Create(ctx, createReq(name, "int main(){}")); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	sub, err := h.svc.Search(ctx, "binary")
	if err != nil || sub.Name != "binary-search" {
		t.Fatalf("expected binary-search, got %v, %v", sub, err)
	}
	_, err = h.svc.Search(ctx, "sort")
	if code := appErr.GetCode(err); code != appErr.AmbiguousMatch || !code.IsNotFoundClass() {
		t.Fatalf("expected AmbiguousMatch, got %v", err)
	}
	if _, err := h.svc.Search(ctx, "bin"); appErr.GetCode(err) != appErr.NotFound {
		t.Fatalf("expected NotFound for partial word, got %v", err)
	}
}

func TestListByTag(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := createReq("a", "int main(){}")
	a.Tags = []string{"math"}
	b := createReq("b", "int main(){}")
	for _, req := range []CreateRequest{a, b} {
		if _, err := h.svc.Create(ctx, req); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	subs, err := h.svc.ListByTag(ctx, "math")
	if err != nil || len(subs) != 1 || subs[0].Name != "a" {
		t.Fatalf("unexpected list %v, %v", subs, err)
	}
	if langs := h.svc.ListLanguages(); len(langs) != 2 || langs[0] != "cpp" {
		t.Fatalf("unexpected languages %v", langs)
	}
}

func TestCreateOnBuildPool(t *testing.T) {
	pool, err := NewBuildPool(2)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Release()
	h := newHarness(t, func(cfg *Config) { cfg.Pool = pool })

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i, name := range []string{"p1", "p2", "p3", "p4"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			req := createReq(name, "int main(){}")
			if i%2 == 1 {
				req.SourceCode = []byte(badSource)
			}
			if _, err := h.svc.Create(context.Background(), req); err != nil {
				errs <- err
			}
		}(i, name)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("create: %v", err)
	}
	names, _ := h.svc.ListNames(context.Background())
	if len(names) != 2 || names[0] != "p1" || names[1] != "p3" {
		t.Fatalf("unexpected survivors %v", names)
	}
}

func TestSameNameOperationsSerialize(t *testing.T) {
	blocking := &blockingRunner{release: make(chan struct{}), started: make(chan struct{})}
	h := newHarness(t, func(cfg *Config) {
		cfg.Runner = blocking
		cfg.Lifecycle.LockWait = 50 * time.Millisecond
	})
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("busy", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Run(ctx, "busy")
		done <- err
	}()
	<-blocking.started

	if err := h.svc.Remove(ctx, "busy"); appErr.GetCode(err) != appErr.LockFailed {
		t.Fatalf("expected LockFailed while run holds the lock, got %v", err)
	}
	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := h.svc.Remove(ctx, "busy"); err != nil {
		t.Fatalf("remove after run: %v", err)
	}
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, req testbot.RunRequest) (model.RunResult, error) {
	close(b.started)
	<-b.release
	return model.RunResult{Status: appErr.Success}, nil
}

func TestNewServiceRejectsUnknownPolicy(t *testing.T) {
	_, err := NewService(Config{
		Store:     repository.NewMemoryStore(),
		Registry:  &language.Registry{},
		Workspace: &workspace.Manager{},
		Builder:   buildbot.New(buildbot.Config{}),
		Runner:    &fakeRunner{},
		IDs:       &seqIDs{},
		Lifecycle: LifecycleConfig{UpdateFailurePolicy: "revert"},
	})
	if err == nil {
		t.Fatalf("expected unknown policy rejected")
	}
}

// sharedReq references the test data created with the first submission.
func sharedReq(name string, testDataID int64) CreateRequest {
	req := createReq(name, "int main(){}")
	req.TestData = nil
	req.TestDataID = testDataID
	return req
}

func TestRemoveKeepsTestDataStillReferenced(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("owner", "int main(){}")); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := h.svc.Create(ctx, sharedReq("borrower", 3)); err != nil {
		t.Fatalf("create borrower: %v", err)
	}
	if err := h.svc.Remove(ctx, "owner"); err != nil {
		t.Fatalf("remove owner: %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); err != nil {
		t.Fatalf("expected shared test data kept: %v", err)
	}
	if _, err := h.svc.Run(ctx, "borrower"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if req := h.runner.reqs[0]; req.RunOptions != "--fast 3" || string(req.Stdin) != "1 2\n" {
		t.Fatalf("expected shared test data used, got %+v", req)
	}

	// the last reference takes the record with it
	if err := h.svc.Remove(ctx, "borrower"); err != nil {
		t.Fatalf("remove borrower: %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); !errors.Is(err, repository.ErrTestDataNotFound) {
		t.Fatalf("expected unreferenced test data released, got %v", err)
	}
}

func TestRemoveOwnerLastDropsTestData(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("owner", "int main(){}")); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := h.svc.Create(ctx, sharedReq("borrower", 3)); err != nil {
		t.Fatalf("create borrower: %v", err)
	}
	if err := h.svc.Remove(ctx, "borrower"); err != nil {
		t.Fatalf("remove borrower: %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); err != nil {
		t.Fatalf("expected owner's test data kept: %v", err)
	}
	if err := h.svc.Remove(ctx, "owner"); err != nil {
		t.Fatalf("remove owner: %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); !errors.Is(err, repository.ErrTestDataNotFound) {
		t.Fatalf("expected test data released with its owner, got %v", err)
	}
}

func TestUpdateNeverOverwritesSharedTestData(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("owner", "int main(){}")); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := h.svc.Create(ctx, sharedReq("borrower", 3)); err != nil {
		t.Fatalf("create borrower: %v", err)
	}

	update := func(name string) {
		t.Helper()
		res, err := h.svc.Update(ctx, name, UpdateRequest{TestData: &TestDataInput{RunOptions: "--slow", Input: []byte(name)}})
		if err != nil || !res.OK() {
			t.Fatalf("update %s: %+v, %v", name, res, err)
		}
		sub, _ := h.svc.Get(ctx, name)
		if sub.TestDataID == 3 {
			t.Fatalf("expected %s to get its own test data", name)
		}
		td, err := h.store.GetTestData(ctx, sub.TestDataID)
		if err != nil || string(td.Input) != name || !td.OwnedBy(sub.ID) {
			t.Fatalf("unexpected test data for %s: %+v, %v", name, td, err)
		}
	}

	update("owner")
	td, err := h.store.GetTestData(ctx, 3)
	if err != nil || td.RunOptions != "--fast 3" || string(td.Input) != "1 2\n" {
		t.Fatalf("expected shared test data untouched, got %+v, %v", td, err)
	}
	if _, err := h.svc.Run(ctx, "borrower"); err != nil {
		t.Fatalf("run borrower: %v", err)
	}
	if req := h.runner.reqs[0]; req.RunOptions != "--fast 3" {
		t.Fatalf("expected borrower to keep the shared test data, got %+v", req)
	}

	update("borrower")
	if _, err := h.store.GetTestData(ctx, 3); !errors.Is(err, repository.ErrTestDataNotFound) {
		t.Fatalf("expected the replaced record released once unreferenced, got %v", err)
	}
}

func TestUpdateOverwritesExclusiveTestDataInPlace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("solo", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.Update(ctx, "solo", UpdateRequest{TestData: &TestDataInput{RunOptions: "--slow"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	sub, _ := h.svc.Get(ctx, "solo")
	td, err := h.store.GetTestData(ctx, 3)
	if sub.TestDataID != 3 || err != nil || td.RunOptions != "--slow" {
		t.Fatalf("expected record 3 rewritten, got %d, %+v, %v", sub.TestDataID, td, err)
	}
}

func TestUpdateFailureDeleteKeepsSharedTestData(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("owner", "int main(){}")); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := h.svc.Create(ctx, sharedReq("borrower", 3)); err != nil {
		t.Fatalf("create borrower: %v", err)
	}
	res, err := h.svc.Update(ctx, "borrower", UpdateRequest{SourceCode: []byte(badSource)})
	if err != nil || res.Status != appErr.BuildFailed {
		t.Fatalf("expected BuildFailed, got %+v, %v", res, err)
	}
	if _, err := h.svc.Get(ctx, "borrower"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected borrower deleted, got %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 3); err != nil {
		t.Fatalf("expected shared test data kept: %v", err)
	}
	if _, err := h.svc.Run(ctx, "owner"); err != nil {
		t.Fatalf("run owner: %v", err)
	}
}

func TestMalformedBuildOptionsAreRejectedUpFront(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	bad := `-DNAME="unterminated`

	req := createReq("opts", "int main(){}")
	req.BuildOptions = bad
	if _, err := h.svc.Create(ctx, req); appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected InvalidParams on create, got %v", err)
	}
	if subs, _ := h.svc.List(ctx); len(subs) != 0 {
		t.Fatalf("expected no records, got %d", len(subs))
	}
	assertNoWorkspaces(t, h)

	if _, err := h.svc.Create(ctx, createReq("opts", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.Update(ctx, "opts", UpdateRequest{BuildOptions: &bad}); appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected InvalidParams on update, got %v", err)
	}
	sub, err := h.svc.Get(ctx, "opts")
	if err != nil || sub.BuildOptions != "" {
		t.Fatalf("expected record unchanged, got %+v, %v", sub, err)
	}
}

func TestArchiveFinishesBeforeCreateReturns(t *testing.T) {
	archive := newFakeArchive()
	h := newHarness(t, func(cfg *Config) { cfg.Archive = archive })
	ctx := context.Background()

	if _, err := h.svc.Create(ctx, createReq("arch", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if keys := archive.keys(); len(keys) != 1 || keys[0] != "u1/1/arch" {
		t.Fatalf("expected artifact archived on return, got %v", keys)
	}
	if _, err := h.svc.Update(ctx, "arch", UpdateRequest{SourceCode: []byte("int main(){return 0;}")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := h.svc.Remove(ctx, "arch"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.svc.Close()
	if keys := archive.keys(); len(keys) != 0 {
		t.Fatalf("expected nothing archived after remove, got %v", keys)
	}
}

func TestUpdateFailureKeepPolicyStillRuns(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Lifecycle.UpdateFailurePolicy = KeepOnFailure
	})
	ctx := context.Background()
	if _, err := h.svc.Create(ctx, createReq("kept", "int main(){}")); err != nil {
		t.Fatalf("create: %v", err)
	}
	ws, _ := h.ws.Resolve("u1", 1)
	exe, _ := h.ws.ExecutablePath(ws, "kept")

	res, err := h.svc.Update(ctx, "kept", UpdateRequest{SourceCode: []byte(badSource)})
	if err != nil || res.Status != appErr.BuildFailed {
		t.Fatalf("expected BuildFailed, got %+v, %v", res, err)
	}
	if info, err := os.Stat(exe); err != nil || info.Mode()&0o111 == 0 {
		t.Fatalf("expected previous artifact back in place: %v", err)
	}
	if _, err := os.Stat(exe + ".prev"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no leftover copy, got %v", err)
	}
	if _, err := h.svc.Run(ctx, "kept"); err != nil {
		t.Fatalf("run kept version: %v", err)
	}

	if _, err := h.svc.Update(ctx, "kept", UpdateRequest{SourceCode: []byte("int main(){return 1;}")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := os.Stat(exe + ".prev"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected previous artifact discarded after success, got %v", err)
	}
}

func TestRemoveKeepsUnownedTestData(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.store.SaveTestData(ctx, &model.TestData{ID: 100, RunOptions: "--shared"}); err != nil {
		t.Fatalf("seed test data: %v", err)
	}
	if _, err := h.svc.Create(ctx, sharedReq("user", 100)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.svc.Remove(ctx, "user"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := h.store.GetTestData(ctx, 100); err != nil {
		t.Fatalf("expected provisioned test data kept: %v", err)
	}
}

func TestRemoveWithUnresolvableWorkspace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	// written around the service, so the user id never went through validation
	if err := h.store.CreateSubmission(ctx, &model.Submission{ID: 50, Name: "legacy", UserID: "../escape", Language: "cpp"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := h.svc.Remove(ctx, "legacy"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := h.svc.Get(ctx, "legacy"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected record removed, got %v", err)
	}
	assertNoWorkspaces(t, h)
}
