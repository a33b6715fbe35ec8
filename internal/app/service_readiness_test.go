package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"ezsop/api/internal/store"
)

func TestListReadinessSeedsDefaultTemplate(t *testing.T) {
	var seeded []store.ReadinessItem
	fs := &fakeStore{
		seedReadinessItemsFn: func(_ context.Context, _ string, items []store.ReadinessItem) (bool, error) {
			seeded = items
			return true, nil
		},
	}
	fs.listReadinessItemsFn = func(context.Context, string) ([]store.ReadinessItem, error) {
		return seeded, nil
	}
	svc := newTestService(fs)

	payload, err := svc.ListReadiness(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListReadiness() error = %v", err)
	}
	if len(seeded) != 12 {
		t.Fatalf("expected a 12-item template, got %d", len(seeded))
	}

	perGroup := map[string]int{}
	for _, item := range seeded {
		perGroup[item.GroupKey]++
		if item.OrgID != "org-1" || item.ID == "" {
			t.Fatalf("expected scoped rows with IDs, got %+v", item)
		}
		if item.GroupLabel == "" {
			t.Fatalf("expected a group label on %q", item.Title)
		}
		if item.SortOrder < 1 || item.SortOrder > 3 {
			t.Fatalf("expected per-group sort orders 1..3, got %d on %q", item.SortOrder, item.Title)
		}
	}
	for _, group := range []string{"paperwork", "training", "skills", "on_the_job"} {
		if perGroup[group] != 3 {
			t.Fatalf("expected 3 items in %s, got %d", group, perGroup[group])
		}
	}

	views, _ := payload["items"].([]map[string]any)
	if len(views) != 12 {
		t.Fatalf("expected 12 items in the payload, got %d", len(views))
	}
}

func TestListReadinessDoesNotReseed(t *testing.T) {
	seedCalled := false
	fs := &fakeStore{
		listReadinessItemsFn: func(_ context.Context, orgID string) ([]store.ReadinessItem, error) {
			return []store.ReadinessItem{{ID: "rdy-1", OrgID: orgID, GroupKey: "training", Title: "First aid and CPR"}}, nil
		},
		seedReadinessItemsFn: func(context.Context, string, []store.ReadinessItem) (bool, error) {
			seedCalled = true
			return false, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ListReadiness(context.Background(), "org-1"); err != nil {
		t.Fatalf("ListReadiness() error = %v", err)
	}
	if seedCalled {
		t.Fatalf("expected no reseed for a populated checklist")
	}
}

func TestUpdateReadinessStatusValues(t *testing.T) {
	ready := "ready"
	needsTraining := "needs_training"
	done := "done"
	tests := []struct {
		name    string
		status  *string
		wantErr bool
	}{
		{"ready", &ready, false},
		{"needs training", &needsTraining, false},
		{"clear", nil, false},
		{"unknown", &done, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotStatus *string
			fs := &fakeStore{
				updateReadinessStatusFn: func(_ context.Context, _, _ string, status *string) error {
					gotStatus = status
					return nil
				},
			}
			svc := newTestService(fs)

			_, err := svc.UpdateReadiness(context.Background(), "org-1", "rdy-1", ReadinessStatusInput{Status: tt.status})
			if tt.wantErr {
				assertDomainError(t, err, 400, "bad_request")
				return
			}
			if err != nil {
				t.Fatalf("UpdateReadiness() error = %v", err)
			}
			if (gotStatus == nil) != (tt.status == nil) {
				t.Fatalf("expected status %v passed through, got %v", tt.status, gotStatus)
			}
		})
	}
}

func TestAddReadinessItemValidatesGroup(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.AddReadinessItem(context.Background(), "org-1", ReadinessItemInput{
		GroupKey: "misc",
		Title:    "Annual fire drill",
	})
	assertDomainError(t, err, 400, "bad_request")
}

func TestAddReadinessItemAppendsCustomRow(t *testing.T) {
	fs := &fakeStore{
		appendReadinessItemFn: func(_ context.Context, item store.ReadinessItem) (store.ReadinessItem, error) {
			item.IsCustom = true
			item.SortOrder = 4
			return item, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.AddReadinessItem(context.Background(), "org-1", ReadinessItemInput{
		GroupKey:    "training",
		Title:       "  Annual fire drill ",
		Description: "Run and log a full evacuation drill",
	})
	if err != nil {
		t.Fatalf("AddReadinessItem() error = %v", err)
	}
	item, _ := payload["item"].(map[string]any)
	if item["title"] != "Annual fire drill" {
		t.Fatalf("expected a trimmed title, got %v", item["title"])
	}
	if item["groupLabel"] != "Training & Certification" {
		t.Fatalf("expected the resolved group label, got %v", item["groupLabel"])
	}
	if item["isCustom"] != true || item["sortOrder"] != 4 {
		t.Fatalf("expected a custom row at the group tail, got %v", item)
	}
}

func TestLinkReadinessItemRequiresSOP(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.LinkReadinessItemSOP(context.Background(), "org-1", "rdy-1", "")
	assertDomainError(t, err, 400, "bad_request")

	_, err = svc.LinkReadinessItemSOP(context.Background(), "org-1", "rdy-1", "sop-missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for an unknown SOP, got %v", err)
	}
}

func TestLinkReadinessItemSavesLink(t *testing.T) {
	var linkedItem, linkedSOP string
	fs := &fakeStore{
		getSOPFn: func(_ context.Context, orgID, sopID string) (store.SOP, error) {
			return store.SOP{ID: sopID, OrgID: orgID, Status: "published"}, nil
		},
		linkReadinessSOPFn: func(_ context.Context, _, itemID, sopID string) error {
			linkedItem, linkedSOP = itemID, sopID
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.LinkReadinessItemSOP(context.Background(), "org-1", "rdy-1", "sop-1")
	if err != nil {
		t.Fatalf("LinkReadinessItemSOP() error = %v", err)
	}
	if linkedItem != "rdy-1" || linkedSOP != "sop-1" {
		t.Fatalf("expected rdy-1 linked to sop-1, got %s/%s", linkedItem, linkedSOP)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok, got %v", payload)
	}
}

func TestDeleteReadinessItemTemplateRowNotFound(t *testing.T) {
	fs := &fakeStore{
		softDeleteReadinessItemFn: func(context.Context, string, string) error {
			return sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	_, err := svc.DeleteReadinessItem(context.Background(), "org-1", "rdy-1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for a template row, got %v", err)
	}
}
