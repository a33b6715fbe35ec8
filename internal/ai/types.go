package ai

import (
	"errors"

	"ezsop/api/internal/store"
)

// The seven dispatch actions.
const (
	ActionRecommendSOPs     = "recommend-sops"
	ActionGenerateSteps     = "generate-sop-steps"
	ActionComplianceCheck   = "compliance-check"
	ActionInterview         = "knowledge-interview"
	ActionGenerateChecklist = "generate-knowledge-checklist"
	ActionIngestKnowledge   = "ingest-knowledge"
	ActionTest              = "test"
)

var (
	ErrNotConfigured = errors.New("AI is not configured")
	ErrUnknownAction = errors.New("unknown action")
	ErrBadPayload    = errors.New("invalid action payload")

	// ErrBadReply is the single error surfaced when a model reply cannot
	// be decoded into the action's data shape.
	ErrBadReply = errors.New("failed to parse AI response as JSON")
)

// OrgContext is the caller's organization, injected server-side into
// every prompt that needs it. Clients never supply it.
type OrgContext struct {
	Name            string
	IndustryType    string
	State           string
	County          string
	City            string
	GoverningBodies []string
}

// RecommendedSOP is one entry of the recommend-sops reply.
type RecommendedSOP struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

type RecommendSOPsData struct {
	Recommendations []RecommendedSOP `json:"recommendations"`
}

// StepsInput is what generate-sop-steps works from: the wizard's
// accumulated context for one SOP.
type StepsInput struct {
	Title          string              `json:"title"`
	Category       string              `json:"category"`
	Purpose        string              `json:"purpose"`
	Transcript     string              `json:"transcript"`
	ContextLinks   []store.ContextLink `json:"context_links"`
	RegulationText string              `json:"regulation_text"`
}

type GeneratedStep struct {
	StepNumber  int    `json:"step_number"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type GenerateStepsData struct {
	Steps []GeneratedStep `json:"steps"`
}

// ComplianceInput carries the SOP under review. The org context rides
// alongside so findings can cite the right regulators.
type ComplianceInput struct {
	SOPTitle string          `json:"sop_title"`
	Category string          `json:"category"`
	Steps    []GeneratedStep `json:"steps"`
}

type ComplianceFinding struct {
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

type ComplianceCheckData struct {
	Findings []ComplianceFinding `json:"findings"`
}

// InterviewInput is the full message history including the newest user
// turn. The opening call sends an empty history.
type InterviewInput struct {
	Messages []store.InterviewMessage `json:"messages"`
}

type InterviewProgress struct {
	Asked int `json:"asked"`
	Total int `json:"total"`
}

type InterviewData struct {
	Question string                 `json:"question"`
	Progress InterviewProgress      `json:"progress"`
	Done     bool                   `json:"done"`
	Profile  *store.BusinessProfile `json:"profile,omitempty"`
}

type ChecklistInput struct {
	Profile *store.BusinessProfile `json:"profile,omitempty"`
}

type ChecklistItem struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Type            string  `json:"type"`
	Priority        string  `json:"priority"`
	Level           string  `json:"level"`
	SuggestedSource *string `json:"suggested_source,omitempty"`
}

type GenerateChecklistData struct {
	Items []ChecklistItem `json:"items"`
}

// KnowledgeSource is one handled checklist item's content, flattened for
// ingestion.
type KnowledgeSource struct {
	Title   string `json:"title"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type IngestInput struct {
	Profile *store.BusinessProfile `json:"profile,omitempty"`
	Sources []KnowledgeSource      `json:"sources"`
}

type IngestKnowledgeData struct {
	Summary       string   `json:"summary"`
	LearnedTopics []string `json:"learned_topics"`
	SourceCount   int      `json:"source_count"`
}

type TestInput struct {
	Message string `json:"message"`
}

type TestData struct {
	Reply string `json:"reply"`
}
