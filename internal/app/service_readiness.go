package app

import (
	"context"
	"net/http"
	"strings"

	"ezsop/api/internal/store"
	"ezsop/api/internal/util"
)

var readinessGroupLabels = map[string]string{
	"paperwork":  "Paperwork & Documentation",
	"training":   "Training & Certification",
	"skills":     "Core Skills",
	"on_the_job": "On-the-Job Readiness",
}

type ReadinessItemInput struct {
	GroupKey    string `json:"groupKey"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ReadinessStatusInput struct {
	Status *string `json:"status"`
}

// defaultReadinessTemplate is what every org starts from. Wording targets
// the residential-care homes most customers run; custom items cover the
// rest.
func defaultReadinessTemplate(orgID string) []store.ReadinessItem {
	entries := []struct {
		group       string
		title       string
		description string
	}{
		{"paperwork", "License application", "Provider license application completed and submitted"},
		{"paperwork", "Background checks", "Current background checks on file for every caregiver"},
		{"paperwork", "Resident records", "Admission agreements, care plans, and medication lists filed per resident"},
		{"training", "First aid and CPR", "Certification current for all staff on shift"},
		{"training", "Medication administration", "State-approved medication administration course completed"},
		{"training", "Mandatory abuse reporting", "Trained on recognizing and reporting abuse or neglect"},
		{"skills", "Care planning", "Can write and update an individual care plan"},
		{"skills", "Incident documentation", "Can document and report incidents correctly and on time"},
		{"skills", "Emergency procedures", "Knows evacuation routes and emergency contacts without looking them up"},
		{"on_the_job", "Shift handoff", "Runs a complete handoff covering medications, meals, and behavior notes"},
		{"on_the_job", "Intake walkthrough", "Has shadowed a resident intake from inquiry to move-in"},
		{"on_the_job", "Inspection readiness", "Can walk an inspector through records and the home unprompted"},
	}

	items := make([]store.ReadinessItem, 0, len(entries))
	order := make(map[string]int, len(readinessGroupLabels))
	for _, entry := range entries {
		order[entry.group]++
		items = append(items, store.ReadinessItem{
			ID:          util.NewID("rdy"),
			OrgID:       orgID,
			GroupKey:    entry.group,
			GroupLabel:  readinessGroupLabels[entry.group],
			Title:       entry.title,
			Description: entry.description,
			SortOrder:   order[entry.group],
		})
	}
	return items
}

// ListReadiness returns the org's checklist, seeding the default template
// on first visit. The seed locks the org row, so two first visits produce
// one template.
func (s *Service) ListReadiness(ctx context.Context, orgID string) (map[string]any, error) {
	items, err := s.store.ListReadinessItems(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if _, err := s.store.SeedReadinessItems(ctx, orgID, defaultReadinessTemplate(orgID)); err != nil {
			return nil, err
		}
		items, err = s.store.ListReadinessItems(ctx, orgID)
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{"items": readinessItemViews(items)}, nil
}

func (s *Service) UpdateReadiness(ctx context.Context, orgID, itemID string, in ReadinessStatusInput) (map[string]any, error) {
	if in.Status != nil && *in.Status != "ready" && *in.Status != "needs_training" {
		return nil, domainError(http.StatusBadRequest, "bad_request",
			"status must be ready, needs_training, or null", nil)
	}
	if err := s.store.UpdateReadinessStatus(ctx, orgID, itemID, in.Status); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) AddReadinessItem(ctx context.Context, orgID string, in ReadinessItemInput) (map[string]any, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "item title is required", nil)
	}
	label, ok := readinessGroupLabels[in.GroupKey]
	if !ok {
		return nil, domainError(http.StatusBadRequest, "bad_request",
			"groupKey must be paperwork, training, skills, or on_the_job", nil)
	}

	item, err := s.store.AppendReadinessItem(ctx, store.ReadinessItem{
		ID:          util.NewID("rdy"),
		OrgID:       orgID,
		GroupKey:    in.GroupKey,
		GroupLabel:  label,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": readinessItemView(item)}, nil
}

func (s *Service) LinkReadinessItemSOP(ctx context.Context, orgID, itemID, sopID string) (map[string]any, error) {
	if sopID == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "sopId is required", nil)
	}
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	if err := s.store.LinkReadinessSOP(ctx, orgID, itemID, sopID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// DeleteReadinessItem removes a custom item. Template rows are not
// deletable and report not found.
func (s *Service) DeleteReadinessItem(ctx context.Context, orgID, itemID string) (map[string]any, error) {
	if err := s.store.SoftDeleteReadinessItem(ctx, orgID, itemID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func readinessItemView(item store.ReadinessItem) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"groupKey":    item.GroupKey,
		"groupLabel":  item.GroupLabel,
		"title":       item.Title,
		"description": item.Description,
		"status":      item.Status,
		"isCustom":    item.IsCustom,
		"sopId":       item.SOPID,
		"sortOrder":   item.SortOrder,
	}
}

func readinessItemViews(items []store.ReadinessItem) []map[string]any {
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, readinessItemView(item))
	}
	return views
}
