package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// integrationStore opens the test database, applies migrations, and
// wipes rows so each test starts clean. Tests skip unless
// EZSOP_TEST_DATABASE_URL is set.
func integrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("EZSOP_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("EZSOP_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE organizations CASCADE`); err != nil {
		t.Fatalf("truncate organizations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE revoked_access_tokens`); err != nil {
		t.Fatalf("truncate revoked tokens: %v", err)
	}
	return NewPostgresStore(db)
}

func seedOrg(t *testing.T, st *PostgresStore, orgID, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateUser(ctx, User{ID: userID, Email: userID + "@example.com", Role: "admin"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := st.OnboardOrganization(ctx, Organization{
		ID:           orgID,
		Name:         "Maple Grove Care Home",
		IndustryType: "Adult Foster Home",
		State:        "OR",
		County:       "Multnomah",
		City:         "Portland",
		CreatedBy:    userID,
	}, nil, userID)
	if err != nil {
		t.Fatalf("onboard organization: %v", err)
	}
}

func TestTransitionSOPStatusIsCompareAndSet(t *testing.T) {
	st := integrationStore(t)
	ctx := context.Background()
	seedOrg(t, st, "org-cas", "usr-cas")

	err := st.InsertSOP(ctx, SOP{
		ID: "sop-cas", OrgID: "org-cas", Title: "Evacuation Drill",
		Category: "Safety", Status: "draft", CreatedBy: "usr-cas",
	})
	if err != nil {
		t.Fatalf("insert sop: %v", err)
	}

	changed, err := st.TransitionSOPStatus(ctx, "org-cas", "sop-cas", "draft", "published")
	if err != nil || !changed {
		t.Fatalf("first transition: changed=%v err=%v", changed, err)
	}
	changed, err = st.TransitionSOPStatus(ctx, "org-cas", "sop-cas", "draft", "published")
	if err != nil {
		t.Fatalf("stale transition: %v", err)
	}
	if changed {
		t.Fatal("expected the stale transition to change nothing")
	}
	changed, err = st.TransitionSOPStatus(ctx, "org-cas", "sop-cas", "published", "archived")
	if err != nil || !changed {
		t.Fatalf("archive transition: changed=%v err=%v", changed, err)
	}

	sop, err := st.GetSOP(ctx, "org-cas", "sop-cas")
	if err != nil {
		t.Fatalf("get sop: %v", err)
	}
	if sop.Status != "archived" {
		t.Fatalf("expected archived, got %s", sop.Status)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	st := integrationStore(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, User{ID: "usr-one", Email: "Dup@Example.com", Role: "admin"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := st.CreateUser(ctx, User{ID: "usr-two", Email: "dup@example.com", Role: "admin"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	user, err := st.GetUserByEmail(ctx, "DUP@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if user.ID != "usr-one" {
		t.Fatalf("expected the first account, got %s", user.ID)
	}
}

func TestOnboardOrganizationRunsOnce(t *testing.T) {
	st := integrationStore(t)
	ctx := context.Background()
	seedOrg(t, st, "org-once", "usr-once")

	err := st.OnboardOrganization(ctx, Organization{
		ID: "org-second", Name: "Second Home", IndustryType: "Adult Foster Home", CreatedBy: "usr-once",
	}, nil, "usr-once")
	if !errors.Is(err, ErrOrgAlreadySet) {
		t.Fatalf("expected ErrOrgAlreadySet, got %v", err)
	}
	// The whole onboarding runs in one transaction, so the second org
	// must not survive the rollback.
	if _, err := st.GetOrganization(ctx, "org-second"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected the second org rolled back, got %v", err)
	}
}

func TestSoftDeletedSOPDisappearsFromReads(t *testing.T) {
	st := integrationStore(t)
	ctx := context.Background()
	seedOrg(t, st, "org-del", "usr-del")

	err := st.InsertSOP(ctx, SOP{
		ID: "sop-del", OrgID: "org-del", Title: "Laundry Handling",
		Category: "Housekeeping", Status: "draft", CreatedBy: "usr-del",
	})
	if err != nil {
		t.Fatalf("insert sop: %v", err)
	}
	if err := st.SoftDeleteSOP(ctx, "org-del", "sop-del"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := st.GetSOP(ctx, "org-del", "sop-del"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	sops, err := st.ListSOPs(ctx, "org-del", "")
	if err != nil {
		t.Fatalf("list sops: %v", err)
	}
	if len(sops) != 0 {
		t.Fatalf("expected no sops, got %d", len(sops))
	}

	// The row itself stays for history, only reads exclude it.
	var count int
	err = st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sops WHERE id='sop-del' AND deleted_at IS NOT NULL`).Scan(&count)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatal("expected the soft-deleted row kept")
	}
}

func TestGetSOPScopesToOrganization(t *testing.T) {
	st := integrationStore(t)
	ctx := context.Background()
	seedOrg(t, st, "org-a", "usr-a")
	seedOrg(t, st, "org-b", "usr-b")

	err := st.InsertSOP(ctx, SOP{
		ID: "sop-scope", OrgID: "org-a", Title: "Visitor Log",
		Category: "Administration", Status: "draft", CreatedBy: "usr-a",
	})
	if err != nil {
		t.Fatalf("insert sop: %v", err)
	}

	if _, err := st.GetSOP(ctx, "org-b", "sop-scope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for the other org, got %v", err)
	}
}
