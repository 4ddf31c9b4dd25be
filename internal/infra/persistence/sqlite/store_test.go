package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"tripstore/pkg/domain"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "tripstore.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func change(kind domain.ChangeKind, key string) domain.Change {
	return domain.NewChange(kind, domain.NewPermanentIdentifier("trips", domain.EntityLivingAccommodation, key))
}

func TestHistoryAppendScan(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	fixed := time.Date(2024, 7, 1, 9, 30, 0, 123, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	for i, author := range []string{domain.AuthorWidget, domain.AuthorApp, domain.AuthorWidget} {
		tx, err := s.Append(ctx, author, []domain.Change{change(domain.ChangeInsert, string(rune('a'+i))), change(domain.ChangeDelete, "z")})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if tx.Token.Sequence != uint64(i+1) {
			t.Fatalf("expected sequence %d, got %d", i+1, tx.Token.Sequence)
		}
	}
	widget, err := s.ScanAfter(ctx, nil, domain.AuthorWidget)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(widget) != 2 || widget[1].Token.Sequence != 3 {
		t.Fatalf("unexpected scan %+v", widget)
	}
	if !widget[0].CommittedAt.Equal(fixed) || len(widget[0].Changes) != 2 || widget[0].Changes[1].Kind != domain.ChangeDelete {
		t.Fatalf("transaction not preserved: %+v", widget[0])
	}
	after, err := s.ScanAfter(ctx, &domain.HistoryToken{Sequence: 1}, "")
	if err != nil || len(after) != 2 || after[0].Author != domain.AuthorApp {
		t.Fatalf("unexpected scan after 1: %+v %v", after, err)
	}
}

func TestHistoryScanPastSignedRange(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if _, err := s.Append(ctx, domain.AuthorWidget, []domain.Change{change(domain.ChangeInsert, "a")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	for _, seq := range []uint64{math.MaxInt64, math.MaxInt64 + 1, math.MaxUint64} {
		txs, err := s.ScanAfter(ctx, &domain.HistoryToken{Sequence: seq}, "")
		if err != nil || len(txs) != 0 {
			t.Fatalf("cursor %d must not replay the log: %d %v", seq, len(txs), err)
		}
	}
}

func TestHistoryRejectsUnknownKindsOnRead(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if _, err := s.DB().Exec(`INSERT INTO history(author, committed_at, changes) VALUES(?,?,?)`,
		domain.AuthorWidget, time.Now().UTC().Format(time.RFC3339Nano), []byte(`[{"kind":"upsert","identifier":"x-perm://s/Trip/1","entity":"Trip"}]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.ScanAfter(ctx, nil, domain.AuthorWidget); !errors.Is(err, domain.ErrUnknownChangeKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestHistorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Append(ctx, domain.AuthorWidget, []domain.Change{change(domain.ChangeUpdate, "a")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Preferences("app").SetData(ctx, domain.PreferenceHistoryToken, []byte("1")); err != nil {
		t.Fatalf("set pref: %v", err)
	}
	_ = s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if reopened.Path() != path {
		t.Fatalf("unexpected path %s", reopened.Path())
	}
	tx, err := reopened.Append(ctx, domain.AuthorWidget, []domain.Change{change(domain.ChangeUpdate, "b")})
	if err != nil || tx.Token.Sequence != 2 {
		t.Fatalf("expected sequence 2: %+v %v", tx, err)
	}
	if got, ok, _ := reopened.Preferences("app").Data(ctx, domain.PreferenceHistoryToken); !ok || string(got) != "1" {
		t.Fatalf("preference lost across reopen")
	}
}

func TestPreferencesScoped(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	app := s.Preferences("app")
	other := s.Preferences("other")
	if _, ok, err := app.Data(ctx, "k"); err != nil || ok {
		t.Fatalf("expected absent: %v %v", ok, err)
	}
	if err := app.SetData(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := app.SetData(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, ok, _ := app.Data(ctx, "k"); !ok || string(got) != "v2" {
		t.Fatalf("unexpected value %q", got)
	}
	if _, ok, _ := other.Data(ctx, "k"); ok {
		t.Fatalf("scopes must not share keys")
	}
	if err := app.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := app.Data(ctx, "k"); ok {
		t.Fatalf("expected key removed")
	}
}
