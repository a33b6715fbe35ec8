package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Invoker is the completion surface the service needs. *Client satisfies
// it; tests substitute a fake.
type Invoker interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Configured() bool
}

// Service turns the seven dispatch actions into prompts, invokes the
// model, and decodes replies into their typed data shapes. Replies that
// do not decode fail the whole action; no caller ever sees partial data.
type Service struct {
	client Invoker
	log    zerolog.Logger
}

func NewService(client Invoker, log zerolog.Logger) *Service {
	return &Service{client: client, log: log}
}

// Configured reports whether the underlying client has an API key.
func (s *Service) Configured() bool {
	return s.client.Configured()
}

// Dispatch routes a raw {action, payload} request from the proxy
// endpoint to the typed action methods. The org context comes from the
// caller's session, never from the payload.
func (s *Service) Dispatch(ctx context.Context, action string, org OrgContext, payload json.RawMessage) (any, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	switch action {
	case ActionRecommendSOPs:
		var in struct {
			KnowledgeSummary string `json:"knowledge_summary"`
		}
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return s.RecommendSOPs(ctx, org, in.KnowledgeSummary)
	case ActionGenerateSteps:
		var in StepsInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return s.GenerateSteps(ctx, org, in)
	case ActionComplianceCheck:
		var in ComplianceInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return s.ComplianceCheck(ctx, org, in)
	case ActionInterview:
		var in InterviewInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return s.Interview(ctx, org, in)
	case ActionGenerateChecklist:
		var in ChecklistInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return s.GenerateChecklist(ctx, org, in)
	case ActionIngestKnowledge:
		var in IngestInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return s.IngestKnowledge(ctx, org, in)
	case ActionTest:
		var in TestInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return s.Test(ctx, in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func (s *Service) RecommendSOPs(ctx context.Context, org OrgContext, knowledgeSummary string) (RecommendSOPsData, error) {
	var data RecommendSOPsData
	err := s.invoke(ctx, ActionRecommendSOPs, systemRecommendSOPs, promptRecommendSOPs(org, knowledgeSummary), &data)
	if err != nil {
		return RecommendSOPsData{}, err
	}
	if len(data.Recommendations) == 0 {
		return RecommendSOPsData{}, fmt.Errorf("reply contained no recommendations: %w", ErrBadReply)
	}
	for i := range data.Recommendations {
		if data.Recommendations[i].Title == "" {
			return RecommendSOPsData{}, fmt.Errorf("recommendation %d missing title: %w", i+1, ErrBadReply)
		}
		if data.Recommendations[i].SortOrder == 0 {
			data.Recommendations[i].SortOrder = i + 1
		}
	}
	return data, nil
}

func (s *Service) GenerateSteps(ctx context.Context, org OrgContext, in StepsInput) (GenerateStepsData, error) {
	var data GenerateStepsData
	err := s.invoke(ctx, ActionGenerateSteps, systemGenerateSteps, promptGenerateSteps(org, in), &data)
	if err != nil {
		return GenerateStepsData{}, err
	}
	if len(data.Steps) == 0 {
		return GenerateStepsData{}, fmt.Errorf("reply contained no steps: %w", ErrBadReply)
	}
	for i := range data.Steps {
		if data.Steps[i].Title == "" {
			return GenerateStepsData{}, fmt.Errorf("step %d missing title: %w", i+1, ErrBadReply)
		}
		if data.Steps[i].StepNumber == 0 {
			data.Steps[i].StepNumber = i + 1
		}
	}
	return data, nil
}

func (s *Service) ComplianceCheck(ctx context.Context, org OrgContext, in ComplianceInput) (ComplianceCheckData, error) {
	var data ComplianceCheckData
	err := s.invoke(ctx, ActionComplianceCheck, systemComplianceCheck, promptComplianceCheck(org, in), &data)
	if err != nil {
		return ComplianceCheckData{}, err
	}
	if data.Findings == nil {
		data.Findings = []ComplianceFinding{}
	}
	for i := range data.Findings {
		f := &data.Findings[i]
		f.Severity = strings.ToLower(strings.TrimSpace(f.Severity))
		switch f.Severity {
		case "high", "medium", "low":
		default:
			return ComplianceCheckData{}, fmt.Errorf("finding %d has severity %q: %w", i+1, f.Severity, ErrBadReply)
		}
		if f.Title == "" {
			return ComplianceCheckData{}, fmt.Errorf("finding %d missing title: %w", i+1, ErrBadReply)
		}
	}
	return data, nil
}

func (s *Service) Interview(ctx context.Context, org OrgContext, in InterviewInput) (InterviewData, error) {
	var data InterviewData
	err := s.invoke(ctx, ActionInterview, systemInterview, promptInterview(org, in), &data)
	if err != nil {
		return InterviewData{}, err
	}
	if data.Done && data.Profile == nil {
		return InterviewData{}, fmt.Errorf("completed interview missing profile: %w", ErrBadReply)
	}
	if !data.Done && data.Question == "" {
		return InterviewData{}, fmt.Errorf("reply missing question: %w", ErrBadReply)
	}
	return data, nil
}

func (s *Service) GenerateChecklist(ctx context.Context, org OrgContext, in ChecklistInput) (GenerateChecklistData, error) {
	var data GenerateChecklistData
	err := s.invoke(ctx, ActionGenerateChecklist, systemGenerateChecklist, promptGenerateChecklist(org, in), &data)
	if err != nil {
		return GenerateChecklistData{}, err
	}
	if len(data.Items) == 0 {
		return GenerateChecklistData{}, fmt.Errorf("reply contained no items: %w", ErrBadReply)
	}
	for i := range data.Items {
		item := &data.Items[i]
		item.Type = strings.ToUpper(strings.TrimSpace(item.Type))
		item.Priority = strings.ToUpper(strings.TrimSpace(item.Priority))
		item.Level = strings.ToLower(strings.TrimSpace(item.Level))
		if item.Title == "" {
			return GenerateChecklistData{}, fmt.Errorf("item %d missing title: %w", i+1, ErrBadReply)
		}
		switch item.Type {
		case "LINK", "PDF", "DOCUMENT", "VOICE", "OTHER":
		default:
			return GenerateChecklistData{}, fmt.Errorf("item %d has type %q: %w", i+1, item.Type, ErrBadReply)
		}
		switch item.Priority {
		case "REQUIRED", "RECOMMENDED", "OPTIONAL":
		default:
			return GenerateChecklistData{}, fmt.Errorf("item %d has priority %q: %w", i+1, item.Priority, ErrBadReply)
		}
		switch item.Level {
		case "federal", "state", "county", "local", "internal":
		default:
			return GenerateChecklistData{}, fmt.Errorf("item %d has level %q: %w", i+1, item.Level, ErrBadReply)
		}
	}
	return data, nil
}

func (s *Service) IngestKnowledge(ctx context.Context, org OrgContext, in IngestInput) (IngestKnowledgeData, error) {
	var data IngestKnowledgeData
	err := s.invoke(ctx, ActionIngestKnowledge, systemIngestKnowledge, promptIngestKnowledge(org, in), &data)
	if err != nil {
		return IngestKnowledgeData{}, err
	}
	if data.Summary == "" {
		return IngestKnowledgeData{}, fmt.Errorf("reply missing summary: %w", ErrBadReply)
	}
	if data.LearnedTopics == nil {
		data.LearnedTopics = []string{}
	}
	if data.SourceCount == 0 {
		data.SourceCount = len(in.Sources)
	}
	return data, nil
}

func (s *Service) Test(ctx context.Context, in TestInput) (TestData, error) {
	msg := in.Message
	if msg == "" {
		msg = "ping"
	}
	var data TestData
	err := s.invoke(ctx, ActionTest, systemTest, "Echo a confirmation for: "+msg, &data)
	if err != nil {
		return TestData{}, err
	}
	if data.Reply == "" {
		return TestData{}, fmt.Errorf("reply missing reply field: %w", ErrBadReply)
	}
	return data, nil
}

// invoke runs one completion and decodes the reply into out.
func (s *Service) invoke(ctx context.Context, action, systemPrompt, userPrompt string, out any) error {
	reply, err := s.client.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("ai completion failed")
		return fmt.Errorf("%s: %w", action, err)
	}

	raw := extractJSON(reply)
	if raw == "" {
		s.log.Warn().Str("action", action).Int("reply_len", len(reply)).Msg("ai reply held no JSON object")
		return ErrBadReply
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("ai reply did not decode")
		return ErrBadReply
	}

	s.log.Debug().Str("action", action).Int("reply_len", len(reply)).Msg("ai action completed")
	return nil
}
