package ai

import (
	"fmt"
	"strings"

	"ezsop/api/internal/store"
)

const systemRecommendSOPs = `You are an operations consultant for small regulated businesses.
Given an organization's profile, recommend the standard operating procedures it should document first.
Respond ONLY with a JSON object of the shape:
{"recommendations": [{"title": string, "category": string, "description": string, "sort_order": number}]}
Order recommendations by importance, sort_order starting at 1. No prose outside the JSON.`

const systemGenerateSteps = `You are a technical writer turning a spoken walkthrough into a standard operating procedure.
Write clear, numbered steps a new employee could follow. Use the reference links and regulation text to fill gaps in the transcript.
Respond ONLY with a JSON object of the shape:
{"steps": [{"step_number": number, "title": string, "description": string}]}
step_number starts at 1 and increases by 1. No prose outside the JSON.`

const systemComplianceCheck = `You are a compliance reviewer for small regulated businesses.
Review the procedure steps against the organization's regulatory context and report concrete findings.
Severity must be one of "high", "medium", "low".
Respond ONLY with a JSON object of the shape:
{"findings": [{"severity": string, "title": string, "description": string, "suggestion": string}]}
Return an empty findings array when the procedure raises no concerns. No prose outside the JSON.`

const systemInterview = `You are conducting a short intake interview to build a business profile.
Ask ONE question at a time. Ask at most 10 questions total, fewer when the answers already cover the ground.
Respond ONLY with a JSON object of the shape:
{"question": string, "progress": {"asked": number, "total": number}, "done": boolean, "profile": object | null}
While the interview is running, done is false and profile is null.
On the final turn set done to true, leave question empty, and fill profile:
{"business_type": string, "services": string, "staff": string, "clients": string, "regulations": string, "special_needs": string, "other_context": string}
No prose outside the JSON.`

const systemGenerateChecklist = `You are an operations consultant preparing a knowledge checklist for a small regulated business.
List the documents, links, and walkthroughs the owner should collect before procedures can be written.
type must be one of "LINK", "PDF", "DOCUMENT", "VOICE", "OTHER".
priority must be one of "REQUIRED", "RECOMMENDED", "OPTIONAL".
level must be one of "federal", "state", "county", "local", "internal".
Respond ONLY with a JSON object of the shape:
{"items": [{"title": string, "description": string, "type": string, "priority": string, "level": string, "suggested_source": string | null}]}
No prose outside the JSON.`

const systemIngestKnowledge = `You are building an internal knowledge base from a business's collected documents.
Summarize what the sources establish about how this business operates and which topics they cover.
Respond ONLY with a JSON object of the shape:
{"summary": string, "learned_topics": [string], "source_count": number}
source_count is the number of sources you were given. No prose outside the JSON.`

const systemTest = `You are a connectivity probe. Respond ONLY with a JSON object of the shape {"reply": string} echoing a short confirmation.`

func writeOrgContext(b *strings.Builder, org OrgContext) {
	b.WriteString("Organization:\n")
	fmt.Fprintf(b, "- Name: %s\n", org.Name)
	fmt.Fprintf(b, "- Industry: %s\n", org.IndustryType)
	fmt.Fprintf(b, "- Location: %s, %s County, %s\n", org.City, org.County, org.State)
	if len(org.GoverningBodies) > 0 {
		fmt.Fprintf(b, "- Governing bodies: %s\n", strings.Join(org.GoverningBodies, "; "))
	}
}

func writeProfile(b *strings.Builder, profile *store.BusinessProfile) {
	if profile == nil {
		return
	}
	b.WriteString("Business profile from the intake interview:\n")
	fmt.Fprintf(b, "- Business type: %s\n", profile.BusinessType)
	fmt.Fprintf(b, "- Services: %s\n", profile.Services)
	fmt.Fprintf(b, "- Staff: %s\n", profile.Staff)
	fmt.Fprintf(b, "- Clients: %s\n", profile.Clients)
	fmt.Fprintf(b, "- Regulations: %s\n", profile.Regulations)
	if profile.SpecialNeeds != "" {
		fmt.Fprintf(b, "- Special needs: %s\n", profile.SpecialNeeds)
	}
	if profile.OtherContext != "" {
		fmt.Fprintf(b, "- Other context: %s\n", profile.OtherContext)
	}
}

func promptRecommendSOPs(org OrgContext, knowledgeSummary string) string {
	var b strings.Builder
	writeOrgContext(&b, org)
	if knowledgeSummary != "" {
		b.WriteString("\nKnowledge base summary:\n")
		b.WriteString(knowledgeSummary)
		b.WriteString("\n")
	}
	b.WriteString("\nRecommend the standard operating procedures this organization should document.")
	return b.String()
}

func promptGenerateSteps(org OrgContext, in StepsInput) string {
	var b strings.Builder
	writeOrgContext(&b, org)
	fmt.Fprintf(&b, "\nSOP: %s (category: %s)\n", in.Title, in.Category)
	if in.Purpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", in.Purpose)
	}
	if len(in.ContextLinks) > 0 {
		b.WriteString("\nReference links:\n")
		for _, link := range in.ContextLinks {
			fmt.Fprintf(&b, "- %s (%s)\n", link.Label, link.URL)
		}
	}
	if in.RegulationText != "" {
		b.WriteString("\nRegulation text:\n")
		b.WriteString(in.RegulationText)
		b.WriteString("\n")
	}
	if in.Transcript != "" {
		b.WriteString("\nSpoken walkthrough transcript:\n")
		b.WriteString(in.Transcript)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite the procedure steps.")
	return b.String()
}

func promptComplianceCheck(org OrgContext, in ComplianceInput) string {
	var b strings.Builder
	writeOrgContext(&b, org)
	fmt.Fprintf(&b, "\nSOP under review: %s (category: %s)\n\nSteps:\n", in.SOPTitle, in.Category)
	for _, step := range in.Steps {
		fmt.Fprintf(&b, "%d. %s: %s\n", step.StepNumber, step.Title, step.Description)
	}
	b.WriteString("\nReview the procedure for compliance concerns.")
	return b.String()
}

func promptInterview(org OrgContext, in InterviewInput) string {
	var b strings.Builder
	writeOrgContext(&b, org)
	if len(in.Messages) == 0 {
		b.WriteString("\nThe interview is starting. Ask your first question.")
		return b.String()
	}
	b.WriteString("\nConversation so far:\n")
	for _, msg := range in.Messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	b.WriteString("\nContinue the interview.")
	return b.String()
}

func promptGenerateChecklist(org OrgContext, in ChecklistInput) string {
	var b strings.Builder
	writeOrgContext(&b, org)
	b.WriteString("\n")
	writeProfile(&b, in.Profile)
	b.WriteString("\nList the knowledge items this organization should collect.")
	return b.String()
}

func promptIngestKnowledge(org OrgContext, in IngestInput) string {
	var b strings.Builder
	writeOrgContext(&b, org)
	b.WriteString("\n")
	writeProfile(&b, in.Profile)
	fmt.Fprintf(&b, "\nSources (%d):\n", len(in.Sources))
	for i, src := range in.Sources {
		fmt.Fprintf(&b, "--- Source %d: %s (%s) ---\n%s\n", i+1, src.Title, src.Type, src.Content)
	}
	b.WriteString("\nSummarize what these sources establish.")
	return b.String()
}
