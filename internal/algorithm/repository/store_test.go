package repository

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"algohub/internal/algorithm/model"
	"algohub/internal/common/cache"
	"algohub/internal/common/db"
	appErr "algohub/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCachedMemoryStore(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	inner := NewMemoryStore()
	return NewCachedStore(inner, client, time.Minute, time.Minute), inner, mr
}

// storeFactories lists every Store implementation reachable in this environment.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"cached": func(t *testing.T) Store {
			s, _, _ := newCachedMemoryStore(t)
			return s
		},
	}
	for env, driver := range map[string]string{"ALGOHUB_TEST_MYSQL_DSN": "mysql", "ALGOHUB_TEST_POSTGRES_DSN": "postgres"} {
		dsn := os.Getenv(env)
		if dsn == "" {
			continue
		}
		driver := driver
		factories[driver] = func(t *testing.T) Store {
			database, err := db.Open(&db.Config{Driver: driver, DSN: dsn})
			if err != nil {
				t.Fatalf("open %s: %v", driver, err)
			}
			t.Cleanup(func() { _ = database.Close() })
			resetTables(t, database)
			return NewSQLStore(db.NewManager(database))
		}
	}
	return factories
}

func resetTables(t *testing.T, database db.Database) {
	t.Helper()
	for _, table := range []string{"algorithm_tags", "tags", "algorithms", "algorithm_status", "test_data"} {
		if _, err := database.Exec(context.Background(), "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

func sample(id int64, name string, tags ...string) *model.Submission {
	return &model.Submission{
		ID:           id,
		Name:         name,
		Description:  "desc " + name,
		UserID:       "u1",
		Language:     "cpp",
		SourceCode:   []byte("int main(){}"),
		BuildOptions: "-O2",
		TestDataID:   id + 1000,
		StatusID:     id + 2000,
		Price:        199,
		Tags:         tags,
	}
}

func TestStoreConformance(t *testing.T) {
	for name, factory := range storeFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) { testCreateGet(t, factory(t)) })
			t.Run("unique name", func(t *testing.T) { testUniqueName(t, factory(t)) })
			t.Run("update and delete", func(t *testing.T) { testUpdateDelete(t, factory(t)) })
			t.Run("search word boundary", func(t *testing.T) { testSearch(t, factory(t)) })
			t.Run("tags", func(t *testing.T) { testTags(t, factory(t)) })
			t.Run("status and test data", func(t *testing.T) { testSatellites(t, factory(t)) })
		})
	}
}

func testCreateGet(t *testing.T, s Store) {
	ctx := context.Background()
	sub := sample(1, "quick sort", " sort ", "divide", "sort")
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetSubmissionByName(ctx, "quick sort")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 1 || string(got.SourceCode) != "int main(){}" || got.Price != 199 || got.TestDataID != 1001 {
		t.Fatalf("unexpected record %+v", got)
	}
	if !reflect.DeepEqual(got.Tags, []string{"divide", "sort"}) {
		t.Fatalf("unexpected tags %q", got.Tags)
	}
	if _, err := s.GetSubmissionByName(ctx, "missing"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testUniqueName(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.CreateSubmission(ctx, sample(1, "dup")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateSubmission(ctx, sample(2, "dup")); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	names, _ := s.ListNames(ctx, "")
	if len(names) != 1 {
		t.Fatalf("duplicate must not be stored: %v", names)
	}
}

func testUpdateDelete(t *testing.T, s Store) {
	ctx := context.Background()
	sub := sample(1, "bfs", "graph")
	_ = s.CreateSubmission(ctx, sub)
	if _, err := s.GetSubmissionByName(ctx, "bfs"); err != nil {
		t.Fatalf("warm get: %v", err)
	}

	sub.Description = "breadth first"
	sub.SourceCode = []byte("v2")
	if err := s.UpdateSubmission(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.GetSubmissionByName(ctx, "bfs")
	if got.Description != "breadth first" || string(got.SourceCode) != "v2" {
		t.Fatalf("update not visible: %+v", got)
	}

	if err := s.DeleteSubmission(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSubmissionByName(ctx, "bfs"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.DeleteSubmission(ctx, sub.ID); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
	if err := s.UpdateSubmission(ctx, sub); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("update of missing record should be not found, got %v", err)
	}
	byTag, _ := s.ListSubmissionsByTag(ctx, "graph")
	if len(byTag) != 0 {
		t.Fatalf("links must be removed with the record: %v", byTag)
	}
}

func testSearch(t *testing.T, s Store) {
	ctx := context.Background()
	_ = s.CreateSubmission(ctx, sample(1, "Quick Sort"))
	_ = s.CreateSubmission(ctx, sample(2, "quicksort"))
	_ = s.CreateSubmission(ctx, sample(3, "heap sort"))

	got, err := s.SearchSubmissions(ctx, "quick")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Quick Sort" {
		t.Fatalf("expected word match only, got %v", names(got))
	}
	got, _ = s.SearchSubmissions(ctx, "SORT")
	if len(got) != 2 {
		t.Fatalf("expected two case-insensitive matches, got %v", names(got))
	}
	got, _ = s.SearchSubmissions(ctx, "so.t")
	if len(got) != 0 {
		t.Fatalf("metacharacters must be literal, got %v", names(got))
	}
}

func testTags(t *testing.T, s Store) {
	ctx := context.Background()
	_ = s.CreateSubmission(ctx, sample(1, "a", "x", "y"))
	_ = s.CreateSubmission(ctx, sample(2, "b", "y"))

	if err := s.ReplaceTags(ctx, 1, []string{" z ", ""}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := s.GetSubmissionByName(ctx, "a")
	if !reflect.DeepEqual(got.Tags, []string{"z"}) {
		t.Fatalf("unexpected tags %q", got.Tags)
	}
	removed, err := s.GarbageCollectTags(ctx)
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected x to be collected, removed %d", removed)
	}
	ys, _ := s.ListNames(ctx, "y")
	if !reflect.DeepEqual(ys, []string{"b"}) {
		t.Fatalf("unexpected names for y: %v", ys)
	}
	all, _ := s.ListSubmissions(ctx)
	if len(all) != 2 || all[0].Name != "a" {
		t.Fatalf("unexpected list %v", names(all))
	}
	if err := s.ReplaceTags(ctx, 99, []string{"z"}); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testSatellites(t *testing.T, s Store) {
	ctx := context.Background()
	st := &model.StatusRecord{ID: 5, Phase: model.PhaseBuilding, Code: appErr.Success}
	if err := s.SaveStatus(ctx, st); err != nil {
		t.Fatalf("save status: %v", err)
	}
	st.Phase, st.Code = model.PhaseFailed, appErr.BuildFailed
	if err := s.SaveStatus(ctx, st); err != nil {
		t.Fatalf("upsert status: %v", err)
	}
	got, err := s.GetStatus(ctx, 5)
	if err != nil || got.Phase != model.PhaseFailed || got.Code != appErr.BuildFailed {
		t.Fatalf("unexpected status %+v %v", got, err)
	}
	if err := s.DeleteStatus(ctx, 5); err != nil {
		t.Fatalf("delete status: %v", err)
	}
	if _, err := s.GetStatus(ctx, 5); !errors.Is(err, ErrStatusNotFound) {
		t.Fatalf("expected status gone, got %v", err)
	}

	td := &model.TestData{ID: 9, RunOptions: "echo test", Input: []byte("1 2\n"), OwnerID: 4}
	if err := s.SaveTestData(ctx, td); err != nil {
		t.Fatalf("save test data: %v", err)
	}
	gotTD, err := s.GetTestData(ctx, 9)
	if err != nil || gotTD.RunOptions != "echo test" || string(gotTD.Input) != "1 2\n" || !gotTD.OwnedBy(4) {
		t.Fatalf("unexpected test data %+v %v", gotTD, err)
	}
	if err := s.DeleteTestData(ctx, 9); err != nil {
		t.Fatalf("delete test data: %v", err)
	}
	if _, err := s.GetTestData(ctx, 9); !errors.Is(err, ErrTestDataNotFound) {
		t.Fatalf("expected test data gone, got %v", err)
	}
	if err := s.DeleteTestData(ctx, 9); err != nil {
		t.Fatalf("deleting absent test data must be a no-op, got %v", err)
	}
}

func TestCachedStoreServesFromCache(t *testing.T) {
	s, inner, mr := newCachedMemoryStore(t)
	ctx := context.Background()
	_ = s.CreateSubmission(ctx, sample(1, "dfs"))

	if _, err := s.GetSubmissionByName(ctx, "dfs"); err != nil {
		t.Fatalf("get: %v", err)
	}
	// Bypass the decorator: the cached copy must still be served.
	_ = inner.DeleteSubmission(ctx, 1)
	if _, err := s.GetSubmissionByName(ctx, "dfs"); err != nil {
		t.Fatalf("expected cached hit, got %v", err)
	}

	// A write through the decorator starts a new generation.
	_ = s.CreateSubmission(ctx, sample(2, "other"))
	if _, err := s.GetSubmissionByName(ctx, "dfs"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected fresh miss after write, got %v", err)
	}
	if !mr.Exists(generationKey) {
		t.Fatal("generation key should be set")
	}
}

func TestCachedStoreNegativeCacheClearedByCreate(t *testing.T) {
	s, _, _ := newCachedMemoryStore(t)
	ctx := context.Background()
	if _, err := s.GetSubmissionByName(ctx, "later"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected miss, got %v", err)
	}
	_ = s.CreateSubmission(ctx, sample(1, "later"))
	if _, err := s.GetSubmissionByName(ctx, "later"); err != nil {
		t.Fatalf("negative entry must not hide a new record: %v", err)
	}
	names, _ := s.ListNames(ctx, "")
	if !reflect.DeepEqual(names, []string{"later"}) {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestCachedStoreGenerationFailureBypassesCache(t *testing.T) {
	s, _, mr := newCachedMemoryStore(t)
	ctx := context.Background()
	if err := s.CreateSubmission(ctx, sample(1, "bfs")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.GetSubmissionByName(ctx, "bfs"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	names, _ := s.ListNames(ctx, "")
	if !reflect.DeepEqual(names, []string{"bfs"}) {
		t.Fatalf("unexpected names %v", names)
	}

	mr.SetError("server unavailable")
	if err := s.DeleteSubmission(ctx, 1); err != nil {
		t.Fatalf("the write itself succeeded, got %v", err)
	}
	if _, err := s.GetSubmissionByName(ctx, "bfs"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected miss while the cache is down, got %v", err)
	}

	mr.SetError("")
	if _, err := s.GetSubmissionByName(ctx, "bfs"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected no stale hit once the cache is back, got %v", err)
	}
	if names, _ := s.ListNames(ctx, ""); len(names) != 0 {
		t.Fatalf("expected no stale names, got %v", names)
	}
}

func TestWordPattern(t *testing.T) {
	if got := WordPattern("a+b", `\y`); got != `\ya\+b\y` {
		t.Fatalf("unexpected pattern %s", got)
	}
}

func TestPlaceholders(t *testing.T) {
	if placeholders(3) != "?, ?, ?" || placeholders(0) != "" {
		t.Fatalf("unexpected placeholders %q", placeholders(3))
	}
}

func names(subs []*model.Submission) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Name)
	}
	return out
}
