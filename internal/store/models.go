package store

import "time"

type User struct {
	ID                string
	Email             string
	Role              string
	OrgID             *string
	PasswordHash      string
	IsEmailVerified   bool
	VerificationToken string
	ResetToken        string
	ResetExpiresAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Organization struct {
	ID             string
	Name           string
	IndustryType   string
	CustomIndustry *string
	State          string
	County         string
	City           string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type GoverningBody struct {
	ID        string
	OrgID     string
	Name      string
	Level     string
	URL       *string
	CreatedAt time.Time
}

// SOP statuses: draft, published, archived.
type SOP struct {
	ID               string
	OrgID            string
	Title            string
	Category         string
	Purpose          string
	Frequency        string
	Status           string
	RecommendationID *string
	PublishedAt      *time.Time
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SOPStep order keys are not contiguous. Reordering swaps the step_number
// of two neighboring rows; display order sorts by step_number, then id.
type SOPStep struct {
	ID          string
	OrgID       string
	SOPID       string
	StepNumber  int
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SOPDraft holds wizard state between steps: reference links and pasted
// regulation text from the context step, the captured transcript from the
// voice step. One row per SOP, last write wins.
type SOPDraft struct {
	SOPID          string
	OrgID          string
	ContextLinks   []ContextLink
	RegulationText string
	Transcript     string
	UpdatedAt      time.Time
}

type ContextLink struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

type ComplianceFinding struct {
	ID          string
	OrgID       string
	SOPID       string
	Severity    string
	Title       string
	Description string
	Suggestion  string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SOPRecommendation statuses: suggested, started, completed.
type SOPRecommendation struct {
	ID          string
	OrgID       string
	Title       string
	Category    string
	Description string
	SortOrder   int
	Status      string
	SOPID       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// KnowledgeItem statuses: pending, provided, learned, skipped. Exactly one
// provided_* column is populated, chosen by the item type.
type KnowledgeItem struct {
	ID                 string
	OrgID              string
	Title              string
	Description        string
	Type               string
	Priority           string
	Level              string
	Status             string
	SuggestedSource    *string
	ProvidedURL        *string
	ProvidedFile       *string
	ProvidedText       *string
	ProvidedTranscript *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type KnowledgeBase struct {
	ID            string
	OrgID         string
	Summary       string
	LearnedTopics []string
	SourceCount   int
	Status        string
	BuiltAt       time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type InterviewMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BusinessProfile is extracted by the interview once the assistant signals
// completion.
type BusinessProfile struct {
	BusinessType string `json:"business_type"`
	Services     string `json:"services"`
	Staff        string `json:"staff"`
	Clients      string `json:"clients"`
	Regulations  string `json:"regulations"`
	SpecialNeeds string `json:"special_needs"`
	OtherContext string `json:"other_context,omitempty"`
}

type KnowledgeInterview struct {
	ID        string
	OrgID     string
	Messages  []InterviewMessage
	Profile   *BusinessProfile
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ReadinessItem struct {
	ID          string
	OrgID       string
	GroupKey    string
	GroupLabel  string
	Title       string
	Description string
	Status      *string
	IsCustom    bool
	SOPID       *string
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
