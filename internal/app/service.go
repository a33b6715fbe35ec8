// Package app orchestrates the domain operations and exposes them over
// HTTP. The Service owns no state beyond the generation latches; every
// authorization decision resolves the caller's user row per request and
// every query is org-scoped at the store layer.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ezsop/api/internal/ai"
	"ezsop/api/internal/archive"
	"ezsop/api/internal/auth"
	"ezsop/api/internal/authpw"
	"ezsop/api/internal/config"
	"ezsop/api/internal/email"
	"ezsop/api/internal/export"
	"ezsop/api/internal/files"
	"ezsop/api/internal/rbac"
	"ezsop/api/internal/search"
	"ezsop/api/internal/store"
	"ezsop/api/internal/util"
)

// Session is a verified caller. Role and OrgID come from the user row, not
// the token, so a role change or onboarding is visible on the next request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Role         string
	OrgID        *string
	JTI          string
	ExpiresAt    time.Time
}

type GoverningBodyInput struct {
	Name  string `json:"name"`
	Level string `json:"level"`
	URL   string `json:"url"`
}

type OnboardingInput struct {
	Name               string               `json:"name"`
	IndustryType       string               `json:"industryType"`
	CustomIndustry     string               `json:"customIndustry"`
	State              string               `json:"state"`
	County             string               `json:"county"`
	City               string               `json:"city"`
	GoverningBodies    []GoverningBodyInput `json:"governingBodies"`
	ConfirmedNoneApply bool                 `json:"confirmedNoneApply"`
}

type OrgProfileInput struct {
	Name            string               `json:"name"`
	IndustryType    string               `json:"industryType"`
	CustomIndustry  string               `json:"customIndustry"`
	State           string               `json:"state"`
	County          string               `json:"county"`
	City            string               `json:"city"`
	GoverningBodies []GoverningBodyInput `json:"governingBodies"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	SchemaVersion(context.Context) (string, error)
	GetUserByID(context.Context, string) (store.User, error)

	OnboardOrganization(context.Context, store.Organization, []store.GoverningBody, string) error
	GetOrganization(context.Context, string) (store.Organization, error)
	UpdateOrganization(context.Context, store.Organization) error
	ListGoverningBodies(context.Context, string) ([]store.GoverningBody, error)
	ReplaceGoverningBodies(context.Context, string, []store.GoverningBody) error

	InsertSOP(context.Context, store.SOP) error
	GetSOP(context.Context, string, string) (store.SOP, error)
	ListSOPs(context.Context, string, string) ([]store.SOP, error)
	UpdateSOP(context.Context, string, string, string, string, string, string) error
	SoftDeleteSOP(context.Context, string, string) error
	TransitionSOPStatus(context.Context, string, string, string, string) (bool, error)

	ListSteps(context.Context, string, string) ([]store.SOPStep, error)
	CountSteps(context.Context, string, string) (int, error)
	InsertSteps(context.Context, []store.SOPStep) error
	AppendStep(context.Context, store.SOPStep) (store.SOPStep, error)
	UpdateStep(context.Context, string, string, string, string, string) error
	SoftDeleteStep(context.Context, string, string, string) error
	SwapStepWithNeighbor(context.Context, string, string, string, string) (bool, error)

	GetSOPDraft(context.Context, string, string) (store.SOPDraft, error)
	UpsertSOPDraftContext(context.Context, string, string, []store.ContextLink, string) error
	UpsertSOPDraftVoice(context.Context, string, string, string) error

	CountFindings(context.Context, string, string) (int, error)
	ListFindings(context.Context, string, string) ([]store.ComplianceFinding, error)
	InsertFindings(context.Context, []store.ComplianceFinding) error
	DeleteFindings(context.Context, string, string) error
	UpdateFindingStatus(context.Context, string, string, string) error

	ListRecommendations(context.Context, string) ([]store.SOPRecommendation, error)
	GetRecommendation(context.Context, string, string) (store.SOPRecommendation, error)
	CountRecommendations(context.Context, string) (int, error)
	InsertRecommendations(context.Context, []store.SOPRecommendation) error
	MarkRecommendationStarted(context.Context, string, string, string) (bool, error)
	CompleteRecommendationForSOP(context.Context, string, string) error
	SoftDeleteRecommendations(context.Context, string) error

	ListKnowledgeItems(context.Context, string) ([]store.KnowledgeItem, error)
	GetKnowledgeItem(context.Context, string, string) (store.KnowledgeItem, error)
	CountKnowledgeItems(context.Context, string) (int, error)
	InsertKnowledgeItems(context.Context, []store.KnowledgeItem) error
	InsertKnowledgeItem(context.Context, store.KnowledgeItem) error
	SoftDeleteKnowledgeItem(context.Context, string, string) error
	SoftDeletePendingKnowledgeItems(context.Context, string) error
	MarkItemProvidedURL(context.Context, string, string, string) (bool, error)
	MarkItemProvidedFile(context.Context, string, string, string) (bool, error)
	MarkItemProvidedText(context.Context, string, string, string) (bool, error)
	MarkItemProvidedTranscript(context.Context, string, string, string) (bool, error)
	SkipItem(context.Context, string, string) (bool, error)
	ReopenItem(context.Context, string, string) (bool, error)
	CountPendingRequired(context.Context, string) (int, error)
	ListHandledKnowledgeItems(context.Context, string) ([]store.KnowledgeItem, error)
	MarkItemsLearned(context.Context, string, []string) error
	UpsertKnowledgeBase(context.Context, store.KnowledgeBase) (store.KnowledgeBase, error)
	GetKnowledgeBase(context.Context, string) (store.KnowledgeBase, error)
	EnsureInterview(context.Context, string, string) (store.KnowledgeInterview, error)
	SaveInterview(context.Context, string, []store.InterviewMessage, *store.BusinessProfile, string) error
	ResetInterview(context.Context, string) error

	ListReadinessItems(context.Context, string) ([]store.ReadinessItem, error)
	SeedReadinessItems(context.Context, string, []store.ReadinessItem) (bool, error)
	UpdateReadinessStatus(context.Context, string, string, *string) error
	AppendReadinessItem(context.Context, store.ReadinessItem) (store.ReadinessItem, error)
	LinkReadinessSOP(context.Context, string, string, string) error
	SoftDeleteReadinessItem(context.Context, string, string) error
}

// sessionStore holds refresh sessions and revoked access-token IDs. Redis
// when configured, the Postgres store otherwise; both satisfy this.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type aiService interface {
	Configured() bool
	Dispatch(context.Context, string, ai.OrgContext, json.RawMessage) (any, error)
	RecommendSOPs(context.Context, ai.OrgContext, string) (ai.RecommendSOPsData, error)
	GenerateSteps(context.Context, ai.OrgContext, ai.StepsInput) (ai.GenerateStepsData, error)
	ComplianceCheck(context.Context, ai.OrgContext, ai.ComplianceInput) (ai.ComplianceCheckData, error)
	Interview(context.Context, ai.OrgContext, ai.InterviewInput) (ai.InterviewData, error)
	GenerateChecklist(context.Context, ai.OrgContext, ai.ChecklistInput) (ai.GenerateChecklistData, error)
	IngestKnowledge(context.Context, ai.OrgContext, ai.IngestInput) (ai.IngestKnowledgeData, error)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexSOP(search.SOPRecord)
	DeleteSOP(string)
	IndexKnowledgeItem(search.KnowledgeRecord)
	DeleteKnowledgeItem(string)
}

type fileStore interface {
	Put(context.Context, string, io.Reader, int64, string) error
	PresignGet(context.Context, string, string, time.Duration) (string, error)
}

type archiveService interface {
	CommitSnapshot(string, archive.Snapshot, string, string) (archive.CommitInfo, error)
	History(string, int) ([]archive.CommitInfo, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(string, string, string) error
	SendPasswordResetEmail(string, string, string) error
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type Service struct {
	cfg       config.Config
	log       zerolog.Logger
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	ai        aiService
	search    searchIndex
	files     fileStore
	archive   archiveService
	mail      mailer
	export    exporter

	// latchMu guards the latch map; each latch serializes one SOP's (or
	// one org-level concern's) generation so a double call fires one AI
	// request.
	latchMu sync.Mutex
	latches map[string]*sync.Mutex
}

func New(
	cfg config.Config,
	log zerolog.Logger,
	dataStore *store.PostgresStore,
	sessions sessionStore,
	aiService *ai.Service,
	searchService *search.Service,
	fileStore *files.Store,
	archiveService *archive.Service,
	mailService *email.Service,
	exportService *export.Service,
) *Service {
	svc := &Service{
		cfg:       cfg,
		log:       log,
		store:     dataStore,
		sessions:  sessions,
		passwords: authpw.NewService(dataStore),
		ai:        aiService,
		search:    searchService,
		archive:   archiveService,
		mail:      mailService,
		export:    exportService,
		latches:   make(map[string]*sync.Mutex),
	}
	// A nil *files.Store must stay a nil interface so the unconfigured
	// check works.
	if fileStore != nil {
		svc.files = fileStore
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SchemaVersion(ctx context.Context) (string, error) {
	return s.store.SchemaVersion(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.passwords
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues a fresh token pair for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.AuthSecret), user.ID, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		OrgID:        user.OrgID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates the refresh token: the presented token is revoked before
// a new pair is issued, so a replayed token fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AuthSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		OrgID:     user.OrgID,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// SendVerificationMail delivers the signup verification link, or logs it
// when SMTP is not configured so dev flows stay unblocked.
func (s *Service) SendVerificationMail(ctx context.Context, toEmail, token string) {
	link := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), token)
	if !s.SMTPConfigured() {
		zerolog.Ctx(ctx).Debug().Str("verify_url", link).Msg("smtp not configured, verification link not sent")
		return
	}
	if err := s.mail.SendVerificationEmail(toEmail, mailName(toEmail), link); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("send verification email failed")
	}
}

func (s *Service) SendPasswordResetMail(ctx context.Context, toEmail, token string) {
	link := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), token)
	if !s.SMTPConfigured() {
		zerolog.Ctx(ctx).Debug().Str("reset_url", link).Msg("smtp not configured, reset link not sent")
		return
	}
	if err := s.mail.SendPasswordResetEmail(toEmail, mailName(toEmail), link); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("send password reset email failed")
	}
}

// Me returns the caller's profile and, once onboarded, the organization.
func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	payload := map[string]any{
		"user": map[string]any{
			"id":    session.UserID,
			"email": session.Email,
			"role":  session.Role,
			"orgId": session.OrgID,
		},
		"organization": nil,
	}
	if session.OrgID != nil {
		org, err := s.store.GetOrganization(ctx, *session.OrgID)
		if err != nil {
			return nil, err
		}
		payload["organization"] = orgView(org)
	}
	return payload, nil
}

// Onboard creates the caller's organization. The caller's org reference
// flips from NULL exactly once; a second attempt conflicts.
func (s *Service) Onboard(ctx context.Context, session Session, in OnboardingInput) (map[string]any, error) {
	if err := validateOrgFields(in.Name, in.IndustryType, in.State, in.County, in.City); err != nil {
		return nil, err
	}
	if len(in.GoverningBodies) == 0 && !in.ConfirmedNoneApply {
		return nil, domainError(http.StatusBadRequest, "bad_request",
			"list at least one governing body or confirm that none apply", nil)
	}

	org := store.Organization{
		ID:           util.NewID("org"),
		Name:         strings.TrimSpace(in.Name),
		IndustryType: strings.TrimSpace(in.IndustryType),
		State:        strings.TrimSpace(in.State),
		County:       strings.TrimSpace(in.County),
		City:         strings.TrimSpace(in.City),
		CreatedBy:    session.UserID,
	}
	if custom := strings.TrimSpace(in.CustomIndustry); custom != "" {
		org.CustomIndustry = &custom
	}

	bodies, err := governingBodiesFromInput(org.ID, in.GoverningBodies)
	if err != nil {
		return nil, err
	}

	if err := s.store.OnboardOrganization(ctx, org, bodies, session.UserID); err != nil {
		if errors.Is(err, store.ErrOrgAlreadySet) {
			return nil, domainError(http.StatusConflict, "already_onboarded",
				"this account already belongs to an organization", nil)
		}
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("org_id", org.ID).Msg("organization onboarded")
	return s.OrgProfile(ctx, org.ID)
}

func (s *Service) OrgProfile(ctx context.Context, orgID string) (map[string]any, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	bodies, err := s.store.ListGoverningBodies(ctx, orgID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(bodies))
	for _, body := range bodies {
		views = append(views, governingBodyView(body))
	}
	return map[string]any{
		"organization":    orgView(org),
		"governingBodies": views,
	}, nil
}

// UpdateOrgProfile edits the organization and replaces its governing
// bodies wholesale.
func (s *Service) UpdateOrgProfile(ctx context.Context, orgID string, in OrgProfileInput) (map[string]any, error) {
	if err := validateOrgFields(in.Name, in.IndustryType, in.State, in.County, in.City); err != nil {
		return nil, err
	}

	org := store.Organization{
		ID:           orgID,
		Name:         strings.TrimSpace(in.Name),
		IndustryType: strings.TrimSpace(in.IndustryType),
		State:        strings.TrimSpace(in.State),
		County:       strings.TrimSpace(in.County),
		City:         strings.TrimSpace(in.City),
	}
	if custom := strings.TrimSpace(in.CustomIndustry); custom != "" {
		org.CustomIndustry = &custom
	}
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}

	bodies, err := governingBodiesFromInput(orgID, in.GoverningBodies)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceGoverningBodies(ctx, orgID, bodies); err != nil {
		return nil, err
	}

	return s.OrgProfile(ctx, orgID)
}

func (s *Service) GoverningBodies(ctx context.Context, orgID string) (map[string]any, error) {
	bodies, err := s.store.ListGoverningBodies(ctx, orgID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(bodies))
	for _, body := range bodies {
		views = append(views, governingBodyView(body))
	}
	return map[string]any{"governingBodies": views}, nil
}

func (s *Service) Search(ctx context.Context, orgID, q, filterType string, limit, offset int) (search.Response, error) {
	var resultType search.ResultType
	switch filterType {
	case "":
	case string(search.ResultSOP):
		resultType = search.ResultSOP
	case string(search.ResultKnowledge):
		resultType = search.ResultKnowledge
	default:
		return search.Response{}, domainError(http.StatusBadRequest, "bad_request",
			"type must be sop or knowledge_item", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(ctx, search.Query{
		Text:       q,
		FilterType: resultType,
		OrgID:      orgID,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

// DispatchAI serves the action proxy endpoint. The org context is resolved
// from the caller's organization, never from the payload.
func (s *Service) DispatchAI(ctx context.Context, orgID, action string, payload json.RawMessage) (any, error) {
	org, err := s.orgContext(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.ai.Dispatch(ctx, action, org, payload)
}

// orgContext flattens the organization row into the shape the prompts
// consume. A custom industry label overrides the canned type.
func (s *Service) orgContext(ctx context.Context, orgID string) (ai.OrgContext, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return ai.OrgContext{}, err
	}
	bodies, err := s.store.ListGoverningBodies(ctx, orgID)
	if err != nil {
		return ai.OrgContext{}, err
	}

	industry := org.IndustryType
	if org.CustomIndustry != nil && *org.CustomIndustry != "" {
		industry = *org.CustomIndustry
	}
	names := make([]string, 0, len(bodies))
	for _, body := range bodies {
		names = append(names, fmt.Sprintf("%s (%s)", body.Name, body.Level))
	}
	return ai.OrgContext{
		Name:            org.Name,
		IndustryType:    industry,
		State:           org.State,
		County:          org.County,
		City:            org.City,
		GoverningBodies: names,
	}, nil
}

func (s *Service) latch(key string) *sync.Mutex {
	s.latchMu.Lock()
	defer s.latchMu.Unlock()
	mu, ok := s.latches[key]
	if !ok {
		mu = &sync.Mutex{}
		s.latches[key] = mu
	}
	return mu
}

// aiFailure logs the underlying cause and collapses it to the single
// user-visible AI error, per the manual-retry contract.
func aiFailure(ctx context.Context, action string, err error) error {
	zerolog.Ctx(ctx).Error().Err(err).Str("action", action).Msg("ai action failed")
	if errors.Is(err, ai.ErrNotConfigured) {
		return domainError(http.StatusBadGateway, "ai_failed", "AI is not configured", nil)
	}
	return domainError(http.StatusBadGateway, "ai_failed", "AI request failed, please retry", nil)
}

func invalidTransition(message string) error {
	return domainError(http.StatusConflict, "invalid_transition", message, nil)
}

func wrongItemType(message string) error {
	return domainError(http.StatusBadRequest, "wrong_item_type", message, nil)
}

func validateOrgFields(name, industryType, state, county, city string) error {
	missing := make([]string, 0, 5)
	if strings.TrimSpace(name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(industryType) == "" {
		missing = append(missing, "industryType")
	}
	if strings.TrimSpace(state) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(county) == "" {
		missing = append(missing, "county")
	}
	if strings.TrimSpace(city) == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return domainError(http.StatusBadRequest, "bad_request", "missing required fields",
			map[string]any{"fields": missing})
	}
	return nil
}

func governingBodiesFromInput(orgID string, inputs []GoverningBodyInput) ([]store.GoverningBody, error) {
	bodies := make([]store.GoverningBody, 0, len(inputs))
	for i, in := range inputs {
		name := strings.TrimSpace(in.Name)
		level := strings.TrimSpace(in.Level)
		if name == "" || level == "" {
			return nil, domainError(http.StatusBadRequest, "bad_request",
				fmt.Sprintf("governing body %d needs a name and a level", i+1), nil)
		}
		body := store.GoverningBody{
			ID:    util.NewID("gov"),
			OrgID: orgID,
			Name:  name,
			Level: level,
		}
		if u := strings.TrimSpace(in.URL); u != "" {
			body.URL = &u
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

func orgView(org store.Organization) map[string]any {
	return map[string]any{
		"id":             org.ID,
		"name":           org.Name,
		"industryType":   org.IndustryType,
		"customIndustry": org.CustomIndustry,
		"state":          org.State,
		"county":         org.County,
		"city":           org.City,
		"createdAt":      org.CreatedAt.Format(time.RFC3339),
		"updatedAt":      org.UpdatedAt.Format(time.RFC3339),
	}
}

func governingBodyView(body store.GoverningBody) map[string]any {
	return map[string]any{
		"id":    body.ID,
		"name":  body.Name,
		"level": body.Level,
		"url":   body.URL,
	}
}

func mailName(address string) string {
	if at := strings.Index(address, "@"); at > 0 {
		return address[:at]
	}
	return address
}
