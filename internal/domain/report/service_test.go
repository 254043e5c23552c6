package report

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmarket/medmarket/internal/platform/notification"
)

// -- Mock Repository --

type mockRepo struct {
	reports   map[uuid.UUID]*RawReport
	artifacts map[uuid.UUID]*AnonymizedArtifact
	listed    map[uuid.UUID]bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		reports:   make(map[uuid.UUID]*RawReport),
		artifacts: make(map[uuid.UUID]*AnonymizedArtifact),
		listed:    make(map[uuid.UUID]bool),
	}
}

func (m *mockRepo) CreateRaw(_ context.Context, r *RawReport) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.reports[r.ID] = r
	return nil
}

func (m *mockRepo) GetRaw(_ context.Context, id uuid.UUID) (*RawReport, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRepo) ListRawByOwner(_ context.Context, owner, reportType string, limit, offset int) ([]*RawReport, int, error) {
	var result []*RawReport
	for _, r := range m.reports {
		if r.OwnerIdentity == owner && (reportType == "" || r.ReportType == reportType) {
			result = append(result, r)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) UpsertArtifact(_ context.Context, a *AnonymizedArtifact) error {
	if m.listed[a.ReportID] {
		return ErrArtifactImmutable
	}
	a.CreatedAt = time.Now()
	m.artifacts[a.ReportID] = a
	return nil
}

func (m *mockRepo) GetArtifact(_ context.Context, reportID uuid.UUID) (*AnonymizedArtifact, error) {
	a, ok := m.artifacts[reportID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *mockRepo) HasListing(_ context.Context, reportID uuid.UUID) (bool, error) {
	return m.listed[reportID], nil
}

func newTestService(repo Repository) *Service {
	return NewService(repo, nil, zerolog.Nop())
}

// -- Tests --

func TestStoreRaw(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	rep, err := svc.StoreRaw(context.Background(), "alice@example.com", "blood", "glucose 110 mg/dL", time.Now())
	if err != nil {
		t.Fatalf("StoreRaw: %v", err)
	}
	if rep.ID == uuid.Nil {
		t.Error("expected assigned id")
	}
	if repo.reports[rep.ID] == nil {
		t.Error("report not persisted")
	}
}

func TestStoreRaw_Validation(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.StoreRaw(ctx, "", "blood", "content", time.Now()); err != ErrForbidden {
		t.Errorf("missing identity: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.StoreRaw(ctx, "a@b.c", "palmistry", "content", time.Now()); err != ErrInvalidReport {
		t.Errorf("bad type: expected ErrInvalidReport, got %v", err)
	}
	if _, err := svc.StoreRaw(ctx, "a@b.c", "blood", "   ", time.Now()); err != ErrInvalidReport {
		t.Errorf("empty content: expected ErrInvalidReport, got %v", err)
	}
}

func TestStoreRaw_SendsNotice(t *testing.T) {
	repo := newMockRepo()
	sender := &notification.MockEmailSender{}
	mgr := notification.NewManager(sender, notification.NewTemplateEngine())
	svc := NewService(repo, mgr, zerolog.Nop())

	if _, err := svc.StoreRaw(context.Background(), "alice@example.com", "blood", "content", time.Now()); err != nil {
		t.Fatalf("StoreRaw: %v", err)
	}

	// Notification is fire-and-forget; poll briefly.
	deadline := time.After(time.Second)
	for {
		if len(sender.Calls()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("notice never sent")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := sender.Calls()[0].To; got != "alice@example.com" {
		t.Errorf("notice sent to %q", got)
	}
}

func TestGetRaw_OwnerOnly(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	rep, _ := svc.StoreRaw(ctx, "alice@example.com", "xray", "left wrist, no fracture", time.Now())

	if _, err := svc.GetRaw(ctx, rep.ID, "alice@example.com"); err != nil {
		t.Errorf("owner read failed: %v", err)
	}
	if _, err := svc.GetRaw(ctx, rep.ID, "mallory@example.com"); err != ErrForbidden {
		t.Errorf("expected ErrForbidden for non-owner, got %v", err)
	}
	if _, err := svc.GetRaw(ctx, uuid.New(), "alice@example.com"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRaw_FiltersByType(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	svc.StoreRaw(ctx, "alice@example.com", "blood", "a", time.Now())
	svc.StoreRaw(ctx, "alice@example.com", "xray", "b", time.Now())
	svc.StoreRaw(ctx, "bob@example.com", "blood", "c", time.Now())

	all, total, err := svc.ListRaw(ctx, "alice@example.com", "", 20, 0)
	if err != nil {
		t.Fatalf("ListRaw: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Errorf("expected 2 reports for alice, got %d", total)
	}

	blood, total, err := svc.ListRaw(ctx, "alice@example.com", "blood", 20, 0)
	if err != nil {
		t.Fatalf("ListRaw typed: %v", err)
	}
	if total != 1 || blood[0].ReportType != "blood" {
		t.Errorf("type filter failed: total=%d", total)
	}
}

func TestStoreAnonymized_IdempotentUpsert(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	rep, _ := svc.StoreRaw(ctx, "alice@example.com", "blood", "content", time.Now())

	if _, err := svc.StoreAnonymized(ctx, rep.ID, "Patient_001 content", "deid-v1"); err != nil {
		t.Fatalf("first StoreAnonymized: %v", err)
	}
	if _, err := svc.StoreAnonymized(ctx, rep.ID, "Patient_001 content v2", "deid-v2"); err != nil {
		t.Fatalf("replay StoreAnonymized: %v", err)
	}
	if len(repo.artifacts) != 1 {
		t.Errorf("expected single artifact row, got %d", len(repo.artifacts))
	}
	if repo.artifacts[rep.ID].AnonymizedContent != "Patient_001 content v2" {
		t.Error("replay did not overwrite")
	}
}

func TestStoreAnonymized_MissingRaw(t *testing.T) {
	svc := newTestService(newMockRepo())
	if _, err := svc.StoreAnonymized(context.Background(), uuid.New(), "content", "m"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreAnonymized_FrozenOnceListed(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	rep, _ := svc.StoreRaw(ctx, "alice@example.com", "blood", "content", time.Now())
	svc.StoreAnonymized(ctx, rep.ID, "anon", "m")
	repo.listed[rep.ID] = true

	if _, err := svc.StoreAnonymized(ctx, rep.ID, "anon v2", "m"); err != ErrArtifactImmutable {
		t.Errorf("expected ErrArtifactImmutable, got %v", err)
	}
}

func TestGetAnonymized_GatedByListing(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	rep, _ := svc.StoreRaw(ctx, "alice@example.com", "blood", "content", time.Now())
	svc.StoreAnonymized(ctx, rep.ID, "anon", "m")

	if _, err := svc.GetAnonymized(ctx, rep.ID); err != ErrForbidden {
		t.Errorf("expected ErrForbidden before listing, got %v", err)
	}

	repo.listed[rep.ID] = true
	a, err := svc.GetAnonymized(ctx, rep.ID)
	if err != nil {
		t.Fatalf("GetAnonymized after listing: %v", err)
	}
	if a.AnonymizedContent != "anon" {
		t.Errorf("unexpected content %q", a.AnonymizedContent)
	}
}

func TestGetArtifactForOwner(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	rep, _ := svc.StoreRaw(ctx, "alice@example.com", "blood", "content", time.Now())
	svc.StoreAnonymized(ctx, rep.ID, "anon", "m")

	if _, err := svc.GetArtifactForOwner(ctx, rep.ID, "alice@example.com"); err != nil {
		t.Errorf("owner artifact read failed: %v", err)
	}
	if _, err := svc.GetArtifactForOwner(ctx, rep.ID, "mallory@example.com"); err != ErrForbidden {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
