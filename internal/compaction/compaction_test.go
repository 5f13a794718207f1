package compaction

import (
	"context"
	"errors"
	"testing"

	widgetsrepo "github.com/faciam-dev/widgetdeck/internal/repository/widgets"
)

type failingStore struct {
	widgetsrepo.Repo
	failOn string
}

func (f failingStore) Compact(ctx context.Context, owner string) error {
	if owner == f.failOn {
		return errors.New("locked")
	}
	return f.Repo.Compact(ctx, owner)
}

func seed(t *testing.T, repo widgetsrepo.Repo, owner string, n int) []string {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for i := 0; i < n; i++ {
		rec, err := repo.InsertRecord(ctx, "note", owner, "")
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	repo := widgetsrepo.NewMemoryRepo()
	ids := seed(t, repo, "u:1", 3)
	seed(t, repo, "u:2", 1)
	if err := repo.RemoveRecord(ctx, ids[0]); err != nil {
		t.Fatalf("remove: %v", err)
	}

	n, err := Run(ctx, repo)
	if err != nil || n != 2 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	recs, _ := repo.UserRecords(ctx, "u:1")
	for i, r := range recs {
		if r.Position != i {
			t.Fatalf("record %s at %d, want %d", r.ID, r.Position, i)
		}
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	repo := widgetsrepo.NewMemoryRepo()
	seed(t, repo, "u:1", 1)
	seed(t, repo, "u:2", 1)
	n, err := Run(context.Background(), failingStore{Repo: repo, failOn: "u:1"})
	if err == nil || n != 1 {
		t.Fatalf("Run = %d, %v", n, err)
	}
}

func TestScheduleRejectsBadCron(t *testing.T) {
	if _, err := Schedule(context.Background(), widgetsrepo.NewMemoryRepo(), "not a cron"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestScheduleDefault(t *testing.T) {
	s, err := Schedule(context.Background(), widgetsrepo.NewMemoryRepo(), "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	defer s.Stop()
	if len(s.Jobs()) != 1 {
		t.Fatalf("expected one job")
	}
}
