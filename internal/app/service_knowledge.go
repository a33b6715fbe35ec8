package app

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ezsop/api/internal/ai"
	"ezsop/api/internal/files"
	"ezsop/api/internal/search"
	"ezsop/api/internal/store"
	"ezsop/api/internal/util"
)

var knowledgeItemTypes = map[string]struct{}{
	"LINK":     {},
	"PDF":      {},
	"DOCUMENT": {},
	"VOICE":    {},
	"OTHER":    {},
}

var knowledgePriorities = map[string]struct{}{
	"REQUIRED":    {},
	"RECOMMENDED": {},
	"OPTIONAL":    {},
}

var knowledgeLevels = map[string]struct{}{
	"federal":  {},
	"state":    {},
	"county":   {},
	"local":    {},
	"internal": {},
}

// interviewMessageCap bounds stored turns per interview. The prompt asks
// at most ten questions; this is the runaway guard behind it.
const interviewMessageCap = 40

type KnowledgeItemInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Level       string `json:"level"`
}

// GenerateChecklist asks the AI what documents and knowledge the org
// should gather. Existing items short-circuit unless force; force clears
// only still-pending items after the new list has parsed, so provided and
// learned content survives a regeneration.
func (s *Service) GenerateChecklist(ctx context.Context, orgID string, force bool) (map[string]any, error) {
	mu := s.latch("chk:" + orgID)
	mu.Lock()
	defer mu.Unlock()

	if !force {
		count, err := s.store.CountKnowledgeItems(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			items, err := s.store.ListKnowledgeItems(ctx, orgID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"generated": false, "items": knowledgeItemViews(items)}, nil
		}
	}

	org, err := s.orgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}
	interview, err := s.store.EnsureInterview(ctx, orgID, util.NewID("int"))
	if err != nil {
		return nil, err
	}

	data, err := s.ai.GenerateChecklist(ctx, org, ai.ChecklistInput{Profile: interview.Profile})
	if err != nil {
		return nil, aiFailure(ctx, ai.ActionGenerateChecklist, err)
	}

	if force {
		if err := s.store.SoftDeletePendingKnowledgeItems(ctx, orgID); err != nil {
			return nil, err
		}
	}
	rows := make([]store.KnowledgeItem, 0, len(data.Items))
	for _, gen := range data.Items {
		suggested := gen.SuggestedSource
		if suggested != nil && strings.TrimSpace(*suggested) == "" {
			suggested = nil
		}
		rows = append(rows, store.KnowledgeItem{
			ID:              util.NewID("itm"),
			OrgID:           orgID,
			Title:           gen.Title,
			Description:     gen.Description,
			Type:            gen.Type,
			Priority:        gen.Priority,
			Level:           gen.Level,
			Status:          "pending",
			SuggestedSource: suggested,
		})
	}
	if err := s.store.InsertKnowledgeItems(ctx, rows); err != nil {
		return nil, err
	}

	items, err := s.store.ListKnowledgeItems(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		for _, item := range items {
			s.search.IndexKnowledgeItem(knowledgeRecord(item))
		}
	}
	zerolog.Ctx(ctx).Info().Int("items", len(items)).Msg("knowledge checklist generated")
	return map[string]any{"generated": true, "items": knowledgeItemViews(items)}, nil
}

func (s *Service) ListKnowledgeChecklist(ctx context.Context, orgID string) (map[string]any, error) {
	items, err := s.store.ListKnowledgeItems(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": knowledgeItemViews(items)}, nil
}

func (s *Service) AddKnowledgeItem(ctx context.Context, orgID string, in KnowledgeItemInput) (map[string]any, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "item title is required", nil)
	}
	itemType := strings.ToUpper(strings.TrimSpace(in.Type))
	if _, ok := knowledgeItemTypes[itemType]; !ok {
		return nil, domainError(http.StatusBadRequest, "bad_request",
			"type must be LINK, PDF, DOCUMENT, VOICE, or OTHER", nil)
	}
	priority := strings.ToUpper(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = "RECOMMENDED"
	}
	if _, ok := knowledgePriorities[priority]; !ok {
		return nil, domainError(http.StatusBadRequest, "bad_request",
			"priority must be REQUIRED, RECOMMENDED, or OPTIONAL", nil)
	}
	level := strings.ToLower(strings.TrimSpace(in.Level))
	if level == "" {
		level = "internal"
	}
	if _, ok := knowledgeLevels[level]; !ok {
		return nil, domainError(http.StatusBadRequest, "bad_request",
			"level must be federal, state, county, local, or internal", nil)
	}

	item := store.KnowledgeItem{
		ID:          util.NewID("itm"),
		OrgID:       orgID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Type:        itemType,
		Priority:    priority,
		Level:       level,
		Status:      "pending",
	}
	if err := s.store.InsertKnowledgeItem(ctx, item); err != nil {
		return nil, err
	}
	return s.savedItemPayload(ctx, orgID, item.ID)
}

func (s *Service) DeleteKnowledgeItem(ctx context.Context, orgID, itemID string) (map[string]any, error) {
	if err := s.store.SoftDeleteKnowledgeItem(ctx, orgID, itemID); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.DeleteKnowledgeItem(itemID)
	}
	return map[string]any{"ok": true}, nil
}

// UseSuggestedSource accepts the AI's suggested link as the provided
// answer in one update.
func (s *Service) UseSuggestedSource(ctx context.Context, orgID, itemID string) (map[string]any, error) {
	item, err := s.store.GetKnowledgeItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Type != "LINK" {
		return nil, wrongItemType("only a LINK item has a suggested source")
	}
	if item.SuggestedSource == nil || strings.TrimSpace(*item.SuggestedSource) == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "this item has no suggested source", nil)
	}
	changed, err := s.store.MarkItemProvidedURL(ctx, orgID, itemID, *item.SuggestedSource)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition("only a pending item can be provided")
	}
	return s.savedItemPayload(ctx, orgID, itemID)
}

func (s *Service) SaveItemURL(ctx context.Context, orgID, itemID, url string) (map[string]any, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "url is required", nil)
	}
	item, err := s.store.GetKnowledgeItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Type != "LINK" {
		return nil, wrongItemType("this item does not take a link")
	}
	changed, err := s.store.MarkItemProvidedURL(ctx, orgID, itemID, url)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition("only a pending item can be provided")
	}
	return s.savedItemPayload(ctx, orgID, itemID)
}

func (s *Service) SaveItemText(ctx context.Context, orgID, itemID, text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "text is required", nil)
	}
	item, err := s.store.GetKnowledgeItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Type != "DOCUMENT" && item.Type != "OTHER" {
		return nil, wrongItemType("this item does not take pasted text")
	}
	changed, err := s.store.MarkItemProvidedText(ctx, orgID, itemID, text)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition("only a pending item can be provided")
	}
	return s.savedItemPayload(ctx, orgID, itemID)
}

func (s *Service) SaveItemTranscript(ctx context.Context, orgID, itemID, transcript string) (map[string]any, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, domainError(http.StatusBadRequest, "bad_request", "transcript is required", nil)
	}
	item, err := s.store.GetKnowledgeItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Type != "VOICE" {
		return nil, wrongItemType("this item does not take a transcript")
	}
	changed, err := s.store.MarkItemProvidedTranscript(ctx, orgID, itemID, transcript)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition("only a pending item can be provided")
	}
	return s.savedItemPayload(ctx, orgID, itemID)
}

// UploadItemFile streams a PDF to object storage and marks the item
// provided. The pending check runs before the upload so a repeat call
// does not orphan objects; the guarded update still decides the winner
// when two uploads race.
func (s *Service) UploadItemFile(ctx context.Context, orgID, itemID, filename, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "internal_error", "file storage is not configured", nil)
	}
	item, err := s.store.GetKnowledgeItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Type != "PDF" {
		return nil, wrongItemType("this item does not take a file upload")
	}
	if item.Status != "pending" {
		return nil, invalidTransition("only a pending item can be provided")
	}

	key := files.KnowledgeKey(orgID, itemID, filename)
	if err := s.files.Put(ctx, key, r, size, contentType); err != nil {
		return nil, err
	}
	changed, err := s.store.MarkItemProvidedFile(ctx, orgID, itemID, key)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition("only a pending item can be provided")
	}
	zerolog.Ctx(ctx).Info().Str("item_id", itemID).Str("object_key", key).Msg("knowledge file uploaded")
	return s.savedItemPayload(ctx, orgID, itemID)
}

func (s *Service) ItemFileURL(ctx context.Context, orgID, itemID string) (map[string]any, error) {
	item, err := s.store.GetKnowledgeItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if item.ProvidedFile == nil || *item.ProvidedFile == "" {
		return nil, domainError(http.StatusNotFound, "not_found", "no file stored for this item", nil)
	}
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "internal_error", "file storage is not configured", nil)
	}
	url, err := s.files.PresignGet(ctx, *item.ProvidedFile, path.Base(*item.ProvidedFile), 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url}, nil
}

func (s *Service) SkipKnowledgeItem(ctx context.Context, orgID, itemID string) (map[string]any, error) {
	if _, err := s.store.GetKnowledgeItem(ctx, orgID, itemID); err != nil {
		return nil, err
	}
	changed, err := s.store.SkipItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition("only a pending item can be skipped")
	}
	return s.savedItemPayload(ctx, orgID, itemID)
}

// ReopenKnowledgeItem puts an item back on the to-do list. Provided
// content is kept; reopen re-asks, it does not erase.
func (s *Service) ReopenKnowledgeItem(ctx context.Context, orgID, itemID string) (map[string]any, error) {
	if _, err := s.store.GetKnowledgeItem(ctx, orgID, itemID); err != nil {
		return nil, err
	}
	changed, err := s.store.ReopenItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition("this item is already pending")
	}
	return s.savedItemPayload(ctx, orgID, itemID)
}

func (s *Service) savedItemPayload(ctx context.Context, orgID, itemID string) (map[string]any, error) {
	item, err := s.store.GetKnowledgeItem(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexKnowledgeItem(knowledgeRecord(item))
	}
	return map[string]any{"item": knowledgeItemView(item)}, nil
}

func (s *Service) GetKnowledgeBase(ctx context.Context, orgID string) (map[string]any, error) {
	kb, err := s.store.GetKnowledgeBase(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"knowledgeBase": knowledgeBaseView(kb)}, nil
}

// BuildKnowledgeBase ingests everything the org has provided into one
// summary. Every REQUIRED item must have left pending first. The write is
// an upsert keyed on org_id, so concurrent builds converge on one row.
func (s *Service) BuildKnowledgeBase(ctx context.Context, orgID string) (map[string]any, error) {
	pending, err := s.store.CountPendingRequired(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, domainError(http.StatusConflict, "checklist_incomplete",
			"required checklist items are still pending", map[string]any{"pendingRequired": pending})
	}

	org, err := s.orgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}
	interview, err := s.store.EnsureInterview(ctx, orgID, util.NewID("int"))
	if err != nil {
		return nil, err
	}
	handled, err := s.store.ListHandledKnowledgeItems(ctx, orgID)
	if err != nil {
		return nil, err
	}

	sources := make([]ai.KnowledgeSource, 0, len(handled))
	ids := make([]string, 0, len(handled))
	for _, item := range handled {
		sources = append(sources, ai.KnowledgeSource{
			Title:   item.Title,
			Type:    item.Type,
			Content: itemContent(item),
		})
		ids = append(ids, item.ID)
	}

	data, err := s.ai.IngestKnowledge(ctx, org, ai.IngestInput{Profile: interview.Profile, Sources: sources})
	if err != nil {
		return nil, aiFailure(ctx, ai.ActionIngestKnowledge, err)
	}

	// The store flips provided rows only; already-learned ids pass through.
	if err := s.store.MarkItemsLearned(ctx, orgID, ids); err != nil {
		return nil, err
	}
	kb, err := s.store.UpsertKnowledgeBase(ctx, store.KnowledgeBase{
		ID:            util.NewID("kb"),
		OrgID:         orgID,
		Summary:       data.Summary,
		LearnedTopics: data.LearnedTopics,
		SourceCount:   data.SourceCount,
		Status:        "complete",
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		if items, err := s.store.ListHandledKnowledgeItems(ctx, orgID); err == nil {
			for _, item := range items {
				s.search.IndexKnowledgeItem(knowledgeRecord(item))
			}
		}
	}
	zerolog.Ctx(ctx).Info().Int("sources", len(sources)).Msg("knowledge base built")
	return map[string]any{"knowledgeBase": knowledgeBaseView(kb)}, nil
}

func (s *Service) GetInterview(ctx context.Context, orgID string) (map[string]any, error) {
	interview, err := s.store.EnsureInterview(ctx, orgID, util.NewID("int"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"interview": interviewView(interview)}, nil
}

// InterviewMessage runs one interview turn: append the user's answer,
// ask the model, append its question, persist. A failed AI call persists
// nothing, so the client re-sends the same answer.
func (s *Service) InterviewMessage(ctx context.Context, orgID, content string) (map[string]any, error) {
	interview, err := s.store.EnsureInterview(ctx, orgID, util.NewID("int"))
	if err != nil {
		return nil, err
	}
	if interview.Status == "complete" {
		return nil, invalidTransition("this interview is already complete")
	}

	content = strings.TrimSpace(content)
	if content == "" && len(interview.Messages) > 0 {
		return nil, domainError(http.StatusBadRequest, "bad_request", "message content is required", nil)
	}

	messages := interview.Messages
	if content != "" {
		messages = append(messages, store.InterviewMessage{Role: "user", Content: content})
	}
	if len(messages) >= interviewMessageCap {
		return nil, domainError(http.StatusConflict, "conflict",
			"this interview has reached its message limit", nil)
	}

	org, err := s.orgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}
	data, err := s.ai.Interview(ctx, org, ai.InterviewInput{Messages: messages})
	if err != nil {
		return nil, aiFailure(ctx, ai.ActionInterview, err)
	}

	if data.Question != "" {
		messages = append(messages, store.InterviewMessage{Role: "assistant", Content: data.Question})
	}
	status := "in_progress"
	profile := interview.Profile
	if data.Done {
		status = "complete"
		profile = data.Profile
	}
	if err := s.store.SaveInterview(ctx, orgID, messages, profile, status); err != nil {
		return nil, err
	}

	saved, err := s.store.EnsureInterview(ctx, orgID, util.NewID("int"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"interview": interviewView(saved),
		"progress": map[string]any{
			"asked": data.Progress.Asked,
			"total": data.Progress.Total,
		},
		"done": data.Done,
	}, nil
}

func (s *Service) RestartInterview(ctx context.Context, orgID string) (map[string]any, error) {
	if _, err := s.store.EnsureInterview(ctx, orgID, util.NewID("int")); err != nil {
		return nil, err
	}
	if err := s.store.ResetInterview(ctx, orgID); err != nil {
		return nil, err
	}
	interview, err := s.store.EnsureInterview(ctx, orgID, util.NewID("int"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"interview": interviewView(interview)}, nil
}

func knowledgeItemView(item store.KnowledgeItem) map[string]any {
	return map[string]any{
		"id":                 item.ID,
		"title":              item.Title,
		"description":        item.Description,
		"type":               item.Type,
		"priority":           item.Priority,
		"level":              item.Level,
		"status":             item.Status,
		"suggestedSource":    item.SuggestedSource,
		"providedUrl":        item.ProvidedURL,
		"providedFile":       item.ProvidedFile,
		"providedText":       item.ProvidedText,
		"providedTranscript": item.ProvidedTranscript,
		"updatedAt":          item.UpdatedAt.Format(time.RFC3339),
	}
}

func knowledgeItemViews(items []store.KnowledgeItem) []map[string]any {
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, knowledgeItemView(item))
	}
	return views
}

func knowledgeBaseView(kb store.KnowledgeBase) map[string]any {
	topics := kb.LearnedTopics
	if topics == nil {
		topics = []string{}
	}
	return map[string]any{
		"id":            kb.ID,
		"summary":       kb.Summary,
		"learnedTopics": topics,
		"sourceCount":   kb.SourceCount,
		"status":        kb.Status,
		"builtAt":       kb.BuiltAt.Format(time.RFC3339),
	}
}

func interviewView(interview store.KnowledgeInterview) map[string]any {
	messages := interview.Messages
	if messages == nil {
		messages = []store.InterviewMessage{}
	}
	return map[string]any{
		"id":        interview.ID,
		"messages":  messages,
		"profile":   interview.Profile,
		"status":    interview.Status,
		"updatedAt": interview.UpdatedAt.Format(time.RFC3339),
	}
}

// itemContent flattens whichever provided field the item carries into the
// text handed to ingestion. A stored file contributes its name only.
func itemContent(item store.KnowledgeItem) string {
	switch {
	case item.ProvidedText != nil && *item.ProvidedText != "":
		return *item.ProvidedText
	case item.ProvidedTranscript != nil && *item.ProvidedTranscript != "":
		return *item.ProvidedTranscript
	case item.ProvidedURL != nil && *item.ProvidedURL != "":
		return *item.ProvidedURL
	case item.ProvidedFile != nil && *item.ProvidedFile != "":
		return path.Base(*item.ProvidedFile)
	}
	return ""
}

func knowledgeRecord(item store.KnowledgeItem) search.KnowledgeRecord {
	content := ""
	switch {
	case item.ProvidedText != nil:
		content = *item.ProvidedText
	case item.ProvidedTranscript != nil:
		content = *item.ProvidedTranscript
	}
	return search.KnowledgeRecord{
		ID:          item.ID,
		OrgID:       item.OrgID,
		Title:       item.Title,
		Description: item.Description,
		Content:     content,
		Status:      item.Status,
	}
}
