package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/wirediff/compare"
	"github.com/hazyhaar/wirediff/dbopen"
	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/imaging"
	"github.com/hazyhaar/wirediff/scoring"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return &Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(Schema))}
}

func TestRecordAndResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	score := 0.75

	if err := s.BeginRun(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}
	ok := compare.Result{
		ScreenName: "home", URL: "https://app.test/", Viewport: imaging.Viewport{Width: 1920, Height: 1080},
		WireframePath: "w.png", CapturePath: "c.png", DiffPath: "d.png",
		DiffPixels: 42, TotalPixels: 1920 * 1080, Status: compare.StatusCompleted,
		Analysis:  &scoring.Verdict{Success: true, SimilarityScore: &score},
		StartedAt: time.Now(), Duration: 1500 * time.Millisecond,
	}
	bad := compare.Result{
		ScreenName: "login", URL: "https://bad.invalid/", Viewport: imaging.Viewport{Width: 800, Height: 600},
		DiffPixels: -1, Status: compare.StatusFailed,
		Error: "[navigation:navigate] timed out", ErrorKind: fault.KindNavigation,
		StartedAt: time.Now(),
	}
	if err := s.Record(ctx, "run-1", 0, ok); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, "run-1", 1, bad); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, "run-1", 1, 1); err != nil {
		t.Fatal(err)
	}

	got, err := s.Results(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].ScreenName != "home" || got[0].DiffPixels != 42 || got[0].Viewport.Width != 1920 {
		t.Errorf("first = %+v", got[0])
	}
	if got[0].Duration != 1500*time.Millisecond {
		t.Errorf("duration = %s", got[0].Duration)
	}
	if got[0].Analysis == nil || got[0].Analysis.SimilarityScore == nil || *got[0].Analysis.SimilarityScore != 0.75 {
		t.Errorf("analysis = %+v", got[0].Analysis)
	}
	if got[1].Status != compare.StatusFailed || got[1].ErrorKind != fault.KindNavigation || got[1].DiffPixels != -1 {
		t.Errorf("second = %+v", got[1])
	}

	runs, err := s.Runs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Completed != 1 || runs[0].Failed != 1 || runs[0].FinishedAt == nil {
		t.Errorf("runs = %+v", runs)
	}
}

func TestResults_UnknownRun(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Results(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.FinishRun(context.Background(), "nope", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finish err = %v, want ErrNotFound", err)
	}
}

func TestRecord_RequiresRun(t *testing.T) {
	s := newTestStore(t)
	err := s.Record(context.Background(), "ghost", 0, compare.Result{ScreenName: "x", Status: compare.StatusFailed})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown run")
	}
}

func TestRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.BeginRun(ctx, id); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	runs, err := s.Runs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Errorf("runs = %+v", runs)
	}
	if runs[0].FinishedAt != nil {
		t.Error("unfinished run has finished_at")
	}
}

func TestOpen_FileAndBatchRecorder(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "db", "wirediff.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	runner := runnerFunc(func(_ context.Context, req compare.Request) compare.Result {
		return compare.Result{ScreenName: req.ScreenName, Status: compare.StatusCompleted, StartedAt: time.Now()}
	})
	rep := compare.NewBatch(runner, compare.BatchConfig{Recorder: s}).Run(context.Background(),
		[]compare.Request{{ScreenName: "one"}, {ScreenName: "two"}})

	got, err := s.Results(context.Background(), rep.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ScreenName != "two" {
		t.Errorf("stored = %+v", got)
	}
}

type runnerFunc func(context.Context, compare.Request) compare.Result

func (f runnerFunc) Run(ctx context.Context, req compare.Request) compare.Result { return f(ctx, req) }
