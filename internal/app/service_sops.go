package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ezsop/api/internal/ai"
	"ezsop/api/internal/archive"
	"ezsop/api/internal/export"
	"ezsop/api/internal/search"
	"ezsop/api/internal/store"
	"ezsop/api/internal/util"
)

var sopStatuses = map[string]struct{}{
	"draft":     {},
	"published": {},
	"archived":  {},
}

var findingStatuses = map[string]struct{}{
	"pending":  {},
	"resolved": {},
	"skipped":  {},
}

type CreateSOPInput struct {
	RecommendationID string `json:"recommendationId"`
	Title            string `json:"title"`
	Category         string `json:"category"`
	Purpose          string `json:"purpose"`
	Frequency        string `json:"frequency"`
}

type UpdateSOPInput struct {
	Title     string `json:"title"`
	Category  string `json:"category"`
	Purpose   string `json:"purpose"`
	Frequency string `json:"frequency"`
}

type DraftContextInput struct {
	Links          []store.ContextLink `json:"links"`
	RegulationText string              `json:"regulationText"`
}

type DraftVoiceInput struct {
	Transcript string `json:"transcript"`
}

type StepInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateSOP starts a draft, either from scratch or from a recommendation.
// Explicit fields win over the recommendation's.
func (s *Service) CreateSOP(ctx context.Context, session Session, in CreateSOPInput) (map[string]any, error) {
	orgID := *session.OrgID
	sop := store.SOP{
		ID:        util.NewID("sop"),
		OrgID:     orgID,
		Title:     strings.TrimSpace(in.Title),
		Category:  strings.TrimSpace(in.Category),
		Purpose:   strings.TrimSpace(in.Purpose),
		Frequency: strings.TrimSpace(in.Frequency),
		Status:    "draft",
		CreatedBy: session.UserID,
	}

	if in.RecommendationID != "" {
		rec, err := s.store.GetRecommendation(ctx, orgID, in.RecommendationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusNotFound, "not_found", "recommendation not found", nil)
			}
			return nil, err
		}
		if sop.Title == "" {
			sop.Title = rec.Title
		}
		if sop.Category == "" {
			sop.Category = rec.Category
		}
		if sop.Purpose == "" {
			sop.Purpose = rec.Description
		}
		sop.RecommendationID = &rec.ID
	}

	if sop.Title == "" || sop.Category == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "title and category are required", nil)
	}

	if err := s.store.InsertSOP(ctx, sop); err != nil {
		return nil, err
	}
	if sop.RecommendationID != nil {
		if _, err := s.store.MarkRecommendationStarted(ctx, orgID, *sop.RecommendationID, sop.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("recommendation_id", *sop.RecommendationID).
				Msg("mark recommendation started failed")
		}
	}

	created, err := s.store.GetSOP(ctx, orgID, sop.ID)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("sop_id", sop.ID).Str("category", sop.Category).Msg("sop created")
	return map[string]any{"sop": sopView(created)}, nil
}

func (s *Service) ListSOPs(ctx context.Context, orgID, status string) (map[string]any, error) {
	if status != "" {
		if _, ok := sopStatuses[status]; !ok {
			return nil, domainError(http.StatusBadRequest, "bad_request",
				"status must be draft, published, or archived", nil)
		}
	}
	sops, err := s.store.ListSOPs(ctx, orgID, status)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(sops))
	for _, sop := range sops {
		views = append(views, sopView(sop))
	}
	return map[string]any{"sops": views}, nil
}

func (s *Service) GetSOPDetail(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	sop, err := s.store.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sop": sopView(sop), "steps": stepViews(steps)}, nil
}

func (s *Service) UpdateSOP(ctx context.Context, orgID, sopID string, in UpdateSOPInput) (map[string]any, error) {
	title := strings.TrimSpace(in.Title)
	category := strings.TrimSpace(in.Category)
	if title == "" || category == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "title and category are required", nil)
	}
	if err := s.store.UpdateSOP(ctx, orgID, sopID, title, category,
		strings.TrimSpace(in.Purpose), strings.TrimSpace(in.Frequency)); err != nil {
		return nil, err
	}

	sop, err := s.store.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	// Published SOPs are searchable, so edits re-index.
	if sop.Status == "published" && s.search != nil {
		if steps, err := s.store.ListSteps(ctx, orgID, sopID); err == nil {
			s.search.IndexSOP(sopSearchRecord(sop, steps))
		}
	}
	return map[string]any{"sop": sopView(sop)}, nil
}

func (s *Service) DeleteSOP(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	if err := s.store.SoftDeleteSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.DeleteSOP(sopID)
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) GetDraft(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	draft, err := s.store.GetSOPDraft(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"draft": draftView(draft)}, nil
}

// SaveDraftContext stores the wizard's context step. Last write wins when
// two clients edit the same SOP.
func (s *Service) SaveDraftContext(ctx context.Context, orgID, sopID string, in DraftContextInput) (map[string]any, error) {
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	links := in.Links
	if links == nil {
		links = []store.ContextLink{}
	}
	if err := s.store.UpsertSOPDraftContext(ctx, orgID, sopID, links, in.RegulationText); err != nil {
		return nil, err
	}
	draft, err := s.store.GetSOPDraft(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"draft": draftView(draft)}, nil
}

func (s *Service) SaveDraftVoice(ctx context.Context, orgID, sopID string, in DraftVoiceInput) (map[string]any, error) {
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	if err := s.store.UpsertSOPDraftVoice(ctx, orgID, sopID, in.Transcript); err != nil {
		return nil, err
	}
	draft, err := s.store.GetSOPDraft(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"draft": draftView(draft)}, nil
}

// GenerateSteps drafts the step list for an empty SOP from the wizard's
// transcript and context. Existing steps short-circuit; the per-SOP latch
// plus the inside-lock recheck collapse a concurrent double call into one
// generation.
func (s *Service) GenerateSteps(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	sop, err := s.store.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}

	mu := s.latch(sopID)
	mu.Lock()
	defer mu.Unlock()

	count, err := s.store.CountSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		steps, err := s.store.ListSteps(ctx, orgID, sopID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"generated": false, "steps": stepViews(steps)}, nil
	}

	draft, err := s.store.GetSOPDraft(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	org, err := s.orgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}

	data, err := s.ai.GenerateSteps(ctx, org, ai.StepsInput{
		Title:          sop.Title,
		Category:       sop.Category,
		Purpose:        sop.Purpose,
		Transcript:     draft.Transcript,
		ContextLinks:   draft.ContextLinks,
		RegulationText: draft.RegulationText,
	})
	if err != nil {
		return nil, aiFailure(ctx, ai.ActionGenerateSteps, err)
	}

	rows := make([]store.SOPStep, 0, len(data.Steps))
	for i, gen := range data.Steps {
		num := gen.StepNumber
		if num <= 0 {
			num = i + 1
		}
		rows = append(rows, store.SOPStep{
			ID:          util.NewID("stp"),
			OrgID:       orgID,
			SOPID:       sopID,
			StepNumber:  num,
			Title:       gen.Title,
			Description: gen.Description,
		})
	}
	if err := s.store.InsertSteps(ctx, rows); err != nil {
		return nil, err
	}

	steps, err := s.store.ListSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("sop_id", sopID).Int("steps", len(steps)).Msg("sop steps generated")
	return map[string]any{"generated": true, "steps": stepViews(steps)}, nil
}

func (s *Service) ListSOPSteps(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"steps": stepViews(steps)}, nil
}

func (s *Service) AddStep(ctx context.Context, orgID, sopID string, in StepInput) (map[string]any, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "step title is required", nil)
	}
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	step, err := s.store.AppendStep(ctx, store.SOPStep{
		ID:          util.NewID("stp"),
		OrgID:       orgID,
		SOPID:       sopID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"step": stepView(step)}, nil
}

func (s *Service) UpdateStep(ctx context.Context, orgID, sopID, stepID string, in StepInput) (map[string]any, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "step title is required", nil)
	}
	if err := s.store.UpdateStep(ctx, orgID, sopID, stepID, title, strings.TrimSpace(in.Description)); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) DeleteStep(ctx context.Context, orgID, sopID, stepID string) (map[string]any, error) {
	if err := s.store.SoftDeleteStep(ctx, orgID, sopID, stepID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// ReorderStep swaps the step's order key with its nearest neighbor. At the
// edge of the list there is no neighbor and moved is false.
func (s *Service) ReorderStep(ctx context.Context, orgID, sopID, stepID, direction string) (map[string]any, error) {
	if direction != "up" && direction != "down" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "direction must be up or down", nil)
	}
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	moved, err := s.store.SwapStepWithNeighbor(ctx, orgID, sopID, stepID, direction)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"moved": moved, "steps": stepViews(steps)}, nil
}

// ComplianceCheck reviews the SOP's steps against the org's regulatory
// context. Existing findings short-circuit unless force; the new findings
// replace the old ones only after the AI reply has parsed, so a failed
// call leaves the previous review intact.
func (s *Service) ComplianceCheck(ctx context.Context, orgID, sopID string, force bool) (map[string]any, error) {
	sop, err := s.store.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}

	mu := s.latch(sopID)
	mu.Lock()
	defer mu.Unlock()

	if !force {
		count, err := s.store.CountFindings(ctx, orgID, sopID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			findings, err := s.store.ListFindings(ctx, orgID, sopID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"checked": false, "findings": findingViews(findings)}, nil
		}
	}

	steps, err := s.store.ListSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, domainError(http.StatusConflict, "conflict", "this SOP has no steps to check", nil)
	}

	org, err := s.orgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}
	in := ai.ComplianceInput{SOPTitle: sop.Title, Category: sop.Category}
	for _, step := range steps {
		in.Steps = append(in.Steps, ai.GeneratedStep{
			StepNumber:  step.StepNumber,
			Title:       step.Title,
			Description: step.Description,
		})
	}

	data, err := s.ai.ComplianceCheck(ctx, org, in)
	if err != nil {
		return nil, aiFailure(ctx, ai.ActionComplianceCheck, err)
	}

	if err := s.store.DeleteFindings(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	rows := make([]store.ComplianceFinding, 0, len(data.Findings))
	for _, finding := range data.Findings {
		rows = append(rows, store.ComplianceFinding{
			ID:          util.NewID("fnd"),
			OrgID:       orgID,
			SOPID:       sopID,
			Severity:    finding.Severity,
			Title:       finding.Title,
			Description: finding.Description,
			Suggestion:  finding.Suggestion,
			Status:      "pending",
		})
	}
	if err := s.store.InsertFindings(ctx, rows); err != nil {
		return nil, err
	}

	findings, err := s.store.ListFindings(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("sop_id", sopID).Int("findings", len(findings)).Msg("compliance check completed")
	return map[string]any{"checked": true, "findings": findingViews(findings)}, nil
}

func (s *Service) ListSOPFindings(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	findings, err := s.store.ListFindings(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"findings": findingViews(findings)}, nil
}

func (s *Service) UpdateFinding(ctx context.Context, orgID, sopID, findingID, status string) (map[string]any, error) {
	if _, ok := findingStatuses[status]; !ok {
		return nil, domainError(http.StatusBadRequest, "bad_request",
			"status must be pending, resolved, or skipped", nil)
	}
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateFindingStatus(ctx, orgID, findingID, status); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// Publish flips a draft live. The archive commit, recommendation
// completion, and search indexing ride behind the transition; their
// failures are logged, not surfaced, because the status change has
// already happened.
func (s *Service) Publish(ctx context.Context, session Session, sopID string) (map[string]any, error) {
	orgID := *session.OrgID
	changed, err := s.store.TransitionSOPStatus(ctx, orgID, sopID, "draft", "published")
	if err != nil {
		return nil, err
	}
	if !changed {
		if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
			return nil, err
		}
		return nil, invalidTransition("only a draft can be published")
	}

	sop, err := s.store.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}

	if sop.RecommendationID != nil {
		if err := s.store.CompleteRecommendationForSOP(ctx, orgID, sopID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("sop_id", sopID).Msg("complete recommendation failed")
		}
	}
	if s.archive != nil {
		if _, err := s.archive.CommitSnapshot(sopID, toSnapshot(sop, steps), session.Email, "Publish "+sop.Title); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("sop_id", sopID).Msg("archive commit failed")
		}
	}
	if s.search != nil {
		s.search.IndexSOP(sopSearchRecord(sop, steps))
	}

	zerolog.Ctx(ctx).Info().Str("sop_id", sopID).Msg("sop published")
	return map[string]any{"sop": sopView(sop)}, nil
}

func (s *Service) ArchiveSOP(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	changed, err := s.store.TransitionSOPStatus(ctx, orgID, sopID, "published", "archived")
	if err != nil {
		return nil, err
	}
	if !changed {
		if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
			return nil, err
		}
		return nil, invalidTransition("only a published SOP can be archived")
	}
	if s.search != nil {
		s.search.DeleteSOP(sopID)
	}
	sop, err := s.store.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sop": sopView(sop)}, nil
}

func (s *Service) UnarchiveSOP(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	changed, err := s.store.TransitionSOPStatus(ctx, orgID, sopID, "archived", "draft")
	if err != nil {
		return nil, err
	}
	if !changed {
		if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
			return nil, err
		}
		return nil, invalidTransition("only an archived SOP can be restored to draft")
	}
	sop, err := s.store.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sop": sopView(sop)}, nil
}

// SOPHistory lists the publish snapshots, newest first. A SOP that has
// never been published has no repository and an empty history.
func (s *Service) SOPHistory(ctx context.Context, orgID, sopID string) (map[string]any, error) {
	if _, err := s.store.GetSOP(ctx, orgID, sopID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return map[string]any{"commits": []archive.CommitInfo{}}, nil
	}
	commits, err := s.archive.History(sopID, 50)
	if err != nil {
		return nil, err
	}
	return map[string]any{"commits": commits}, nil
}

func (s *Service) ExportSOP(ctx context.Context, orgID, sopID, format string) (*export.Result, error) {
	if format != string(export.FormatPDF) && format != string(export.FormatDOCX) {
		return nil, domainError(http.StatusBadRequest, "bad_request", "format must be pdf or docx", nil)
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "internal_error", "export is not configured", nil)
	}
	result, err := s.export.Export(ctx, export.Request{OrgID: orgID, SOPID: sopID, Format: export.Format(format)})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrUnsupportedFormat):
			return nil, domainError(http.StatusBadRequest, "bad_request", "format must be pdf or docx", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "internal_error", "export renderer is unavailable", nil)
		}
		return nil, err
	}
	return result, nil
}

// GenerateRecommendations asks the AI for a starter SOP list from the org
// profile and, when built, the knowledge base summary. An existing list
// short-circuits unless force; force discards the old list only after the
// new one has parsed.
func (s *Service) GenerateRecommendations(ctx context.Context, orgID string, force bool) (map[string]any, error) {
	mu := s.latch("rec:" + orgID)
	mu.Lock()
	defer mu.Unlock()

	if !force {
		count, err := s.store.CountRecommendations(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			recs, err := s.store.ListRecommendations(ctx, orgID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"generated": false, "recommendations": recommendationViews(recs)}, nil
		}
	}

	org, err := s.orgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}
	summary := ""
	if kb, err := s.store.GetKnowledgeBase(ctx, orgID); err == nil {
		summary = kb.Summary
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	data, err := s.ai.RecommendSOPs(ctx, org, summary)
	if err != nil {
		return nil, aiFailure(ctx, ai.ActionRecommendSOPs, err)
	}

	if force {
		if err := s.store.SoftDeleteRecommendations(ctx, orgID); err != nil {
			return nil, err
		}
	}
	rows := make([]store.SOPRecommendation, 0, len(data.Recommendations))
	for i, rec := range data.Recommendations {
		sortOrder := rec.SortOrder
		if sortOrder <= 0 {
			sortOrder = i + 1
		}
		rows = append(rows, store.SOPRecommendation{
			ID:          util.NewID("rec"),
			OrgID:       orgID,
			Title:       rec.Title,
			Category:    rec.Category,
			Description: rec.Description,
			SortOrder:   sortOrder,
			Status:      "suggested",
		})
	}
	if err := s.store.InsertRecommendations(ctx, rows); err != nil {
		return nil, err
	}

	recs, err := s.store.ListRecommendations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Int("count", len(recs)).Msg("sop recommendations generated")
	return map[string]any{"generated": true, "recommendations": recommendationViews(recs)}, nil
}

func (s *Service) ListSOPRecommendations(ctx context.Context, orgID string) (map[string]any, error) {
	recs, err := s.store.ListRecommendations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"recommendations": recommendationViews(recs)}, nil
}

func sopView(sop store.SOP) map[string]any {
	view := map[string]any{
		"id":               sop.ID,
		"title":            sop.Title,
		"category":         sop.Category,
		"purpose":          sop.Purpose,
		"frequency":        sop.Frequency,
		"status":           sop.Status,
		"recommendationId": sop.RecommendationID,
		"publishedAt":      nil,
		"createdAt":        sop.CreatedAt.Format(time.RFC3339),
		"updatedAt":        sop.UpdatedAt.Format(time.RFC3339),
	}
	if sop.PublishedAt != nil {
		view["publishedAt"] = sop.PublishedAt.Format(time.RFC3339)
	}
	return view
}

func stepView(step store.SOPStep) map[string]any {
	return map[string]any{
		"id":          step.ID,
		"sopId":       step.SOPID,
		"stepNumber":  step.StepNumber,
		"title":       step.Title,
		"description": step.Description,
		"updatedAt":   step.UpdatedAt.Format(time.RFC3339),
	}
}

func stepViews(steps []store.SOPStep) []map[string]any {
	views := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		views = append(views, stepView(step))
	}
	return views
}

func draftView(draft store.SOPDraft) map[string]any {
	links := draft.ContextLinks
	if links == nil {
		links = []store.ContextLink{}
	}
	view := map[string]any{
		"sopId":          draft.SOPID,
		"links":          links,
		"regulationText": draft.RegulationText,
		"transcript":     draft.Transcript,
		"updatedAt":      nil,
	}
	if !draft.UpdatedAt.IsZero() {
		view["updatedAt"] = draft.UpdatedAt.Format(time.RFC3339)
	}
	return view
}

func findingView(finding store.ComplianceFinding) map[string]any {
	return map[string]any{
		"id":          finding.ID,
		"sopId":       finding.SOPID,
		"severity":    finding.Severity,
		"title":       finding.Title,
		"description": finding.Description,
		"suggestion":  finding.Suggestion,
		"status":      finding.Status,
		"createdAt":   finding.CreatedAt.Format(time.RFC3339),
	}
}

func findingViews(findings []store.ComplianceFinding) []map[string]any {
	views := make([]map[string]any, 0, len(findings))
	for _, finding := range findings {
		views = append(views, findingView(finding))
	}
	return views
}

func recommendationView(rec store.SOPRecommendation) map[string]any {
	return map[string]any{
		"id":          rec.ID,
		"title":       rec.Title,
		"category":    rec.Category,
		"description": rec.Description,
		"sortOrder":   rec.SortOrder,
		"status":      rec.Status,
		"sopId":       rec.SOPID,
	}
}

func recommendationViews(recs []store.SOPRecommendation) []map[string]any {
	views := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		views = append(views, recommendationView(rec))
	}
	return views
}

func toSnapshot(sop store.SOP, steps []store.SOPStep) archive.Snapshot {
	snap := archive.Snapshot{
		ID:        sop.ID,
		Title:     sop.Title,
		Category:  sop.Category,
		Purpose:   sop.Purpose,
		Frequency: sop.Frequency,
		Steps:     make([]archive.SnapshotStep, 0, len(steps)),
	}
	for _, step := range steps {
		snap.Steps = append(snap.Steps, archive.SnapshotStep{
			StepNumber:  step.StepNumber,
			Title:       step.Title,
			Description: step.Description,
		})
	}
	return snap
}

func sopSearchRecord(sop store.SOP, steps []store.SOPStep) search.SOPRecord {
	var text strings.Builder
	for _, step := range steps {
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(step.Title)
		if step.Description != "" {
			text.WriteString(": ")
			text.WriteString(step.Description)
		}
	}
	return search.SOPRecord{
		ID:       sop.ID,
		OrgID:    sop.OrgID,
		Title:    sop.Title,
		Category: sop.Category,
		Purpose:  sop.Purpose,
		StepText: text.String(),
		Status:   sop.Status,
	}
}
