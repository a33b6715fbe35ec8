package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ezsop/api/internal/ai"
	"ezsop/api/internal/auth"
	"ezsop/api/internal/authpw"
	"ezsop/api/internal/rbac"
)

// maxUploadBytes caps knowledge-item file uploads.
const maxUploadBytes = 25 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		database := map[string]any{"status": "ok"}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			database = map[string]any{"status": "error", "error": err.Error()}
		} else if version, err := s.service.SchemaVersion(ctx); err == nil {
			database["schemaVersion"] = version
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": map[string]any{"database": database},
		})
		return
	}

	// Auth routes, no session required.
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		s.handleRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		s.handleLogout(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/request-password-reset" {
		s.handleRequestPasswordReset(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleResetPassword(w, r)
		return
	}

	session, r, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	// The two routes a freshly signed-up account can reach before it has
	// an organization.
	if r.Method == http.MethodGet && r.URL.Path == "/api/me" {
		payload, err := s.service.Me(r.Context(), session)
		writeResult(w, payload, err)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/onboarding" {
		var body OnboardingInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		payload, err := s.service.Onboard(r.Context(), session, body)
		writeResult(w, payload, err)
		return
	}

	orgID, ok := s.requireOrg(w, session)
	if !ok {
		return
	}

	if r.URL.Path == "/api/org" {
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.OrgProfile(r.Context(), orgID)
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodPut {
			if !s.allow(w, session, rbac.ActionManageOrg) {
				return
			}
			var body OrgProfileInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateOrgProfile(r.Context(), orgID, body)
			writeResult(w, payload, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/org/governing-bodies" {
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.GoverningBodies(r.Context(), orgID)
		writeResult(w, payload, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		filterType := strings.TrimSpace(r.URL.Query().Get("type"))
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}
		payload, err := s.service.Search(r.Context(), orgID, q, filterType, limit, offset)
		writeResult(w, payload, err)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/ai" {
		if !s.allow(w, session, rbac.ActionRunAI) {
			return
		}
		s.handleAIProxy(w, r, orgID)
		return
	}

	if r.URL.Path == "/api/recommendations" && r.Method == http.MethodGet {
		if !s.allow(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.ListSOPRecommendations(r.Context(), orgID)
		writeResult(w, payload, err)
		return
	}
	if r.URL.Path == "/api/recommendations/generate" && r.Method == http.MethodPost {
		if !s.allow(w, session, rbac.ActionRunAI) {
			return
		}
		payload, err := s.service.GenerateRecommendations(r.Context(), orgID, forceParam(r))
		writeResult(w, payload, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "sops":
			s.handleSOPs(w, r, session, orgID, parts)
			return
		case "knowledge":
			s.handleKnowledge(w, r, session, orgID, parts)
			return
		case "readiness":
			s.handleReadiness(w, r, session, orgID, parts)
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "not found", nil)
}

func (s *HTTPServer) handleSOPs(w http.ResponseWriter, r *http.Request, session Session, orgID string, parts []string) {
	if len(parts) == 2 {
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.ListSOPs(r.Context(), orgID, strings.TrimSpace(r.URL.Query().Get("status")))
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			var body CreateSOPInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateSOP(r.Context(), session, body)
			writeResult(w, payload, err)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed", nil)
		return
	}

	sopID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.GetSOPDetail(r.Context(), orgID, sopID)
			writeResult(w, payload, err)
		case http.MethodPut:
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			var body UpdateSOPInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateSOP(r.Context(), orgID, sopID, body)
			writeResult(w, payload, err)
		case http.MethodDelete:
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			payload, err := s.service.DeleteSOP(r.Context(), orgID, sopID)
			writeResult(w, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 {
		switch parts[3] {
		case "draft":
			if r.Method == http.MethodGet {
				if !s.allow(w, session, rbac.ActionRead) {
					return
				}
				payload, err := s.service.GetDraft(r.Context(), orgID, sopID)
				writeResult(w, payload, err)
				return
			}
		case "steps":
			if r.Method == http.MethodGet {
				if !s.allow(w, session, rbac.ActionRead) {
					return
				}
				payload, err := s.service.ListSOPSteps(r.Context(), orgID, sopID)
				writeResult(w, payload, err)
				return
			}
			if r.Method == http.MethodPost {
				if !s.allow(w, session, rbac.ActionAuthorSOP) {
					return
				}
				var body StepInput
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
					return
				}
				payload, err := s.service.AddStep(r.Context(), orgID, sopID, body)
				writeResult(w, payload, err)
				return
			}
		case "publish":
			if r.Method == http.MethodPost {
				if !s.allow(w, session, rbac.ActionPublishSOP) {
					return
				}
				payload, err := s.service.Publish(r.Context(), session, sopID)
				writeResult(w, payload, err)
				return
			}
		case "archive":
			if r.Method == http.MethodPost {
				if !s.allow(w, session, rbac.ActionPublishSOP) {
					return
				}
				payload, err := s.service.ArchiveSOP(r.Context(), orgID, sopID)
				writeResult(w, payload, err)
				return
			}
		case "unarchive":
			if r.Method == http.MethodPost {
				if !s.allow(w, session, rbac.ActionPublishSOP) {
					return
				}
				payload, err := s.service.UnarchiveSOP(r.Context(), orgID, sopID)
				writeResult(w, payload, err)
				return
			}
		case "history":
			if r.Method == http.MethodGet {
				if !s.allow(w, session, rbac.ActionRead) {
					return
				}
				payload, err := s.service.SOPHistory(r.Context(), orgID, sopID)
				writeResult(w, payload, err)
				return
			}
		case "export":
			if r.Method == http.MethodGet {
				if !s.allow(w, session, rbac.ActionExport) {
					return
				}
				result, err := s.service.ExportSOP(r.Context(), orgID, sopID, strings.TrimSpace(r.URL.Query().Get("format")))
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
				w.Header().Set("Content-Type", result.MimeType)
				_, _ = w.Write(result.Data)
				return
			}
		}
	}

	if len(parts) == 5 && parts[3] == "draft" {
		if r.Method == http.MethodPut && parts[4] == "context" {
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			var body DraftContextInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveDraftContext(r.Context(), orgID, sopID, body)
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodPut && parts[4] == "voice" {
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			var body DraftVoiceInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveDraftVoice(r.Context(), orgID, sopID, body)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 5 && parts[3] == "steps" && parts[4] == "generate" {
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionRunAI) {
				return
			}
			payload, err := s.service.GenerateSteps(r.Context(), orgID, sopID)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 5 && parts[3] == "steps" {
		stepID := parts[4]
		if r.Method == http.MethodPut {
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			var body StepInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateStep(r.Context(), orgID, sopID, stepID, body)
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodDelete {
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			payload, err := s.service.DeleteStep(r.Context(), orgID, sopID, stepID)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 6 && parts[3] == "steps" && parts[5] == "reorder" {
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			var body struct {
				Direction string `json:"direction"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.ReorderStep(r.Context(), orgID, sopID, parts[4], body.Direction)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 5 && parts[3] == "compliance" && parts[4] == "check" {
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionRunAI) {
				return
			}
			payload, err := s.service.ComplianceCheck(r.Context(), orgID, sopID, forceParam(r))
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 5 && parts[3] == "compliance" && parts[4] == "findings" {
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.ListSOPFindings(r.Context(), orgID, sopID)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 6 && parts[3] == "compliance" && parts[4] == "findings" {
		if r.Method == http.MethodPatch {
			if !s.allow(w, session, rbac.ActionAuthorSOP) {
				return
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateFinding(r.Context(), orgID, sopID, parts[5], body.Status)
			writeResult(w, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "not found", nil)
}

func (s *HTTPServer) handleKnowledge(w http.ResponseWriter, r *http.Request, session Session, orgID string, parts []string) {
	if len(parts) == 4 && parts[2] == "checklist" && parts[3] == "generate" {
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionRunAI) {
				return
			}
			payload, err := s.service.GenerateChecklist(r.Context(), orgID, forceParam(r))
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 3 && parts[2] == "items" {
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.ListKnowledgeChecklist(r.Context(), orgID)
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionManageKnowledge) {
				return
			}
			var body KnowledgeItemInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.AddKnowledgeItem(r.Context(), orgID, body)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 4 && parts[2] == "items" {
		if r.Method == http.MethodDelete {
			if !s.allow(w, session, rbac.ActionManageKnowledge) {
				return
			}
			payload, err := s.service.DeleteKnowledgeItem(r.Context(), orgID, parts[3])
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 5 && parts[2] == "items" {
		itemID := parts[3]
		action := parts[4]

		if r.Method == http.MethodGet && action == "file" {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.ItemFileURL(r.Context(), orgID, itemID)
			writeResult(w, payload, err)
			return
		}

		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "bad_request", "method not allowed", nil)
			return
		}
		if !s.allow(w, session, rbac.ActionManageKnowledge) {
			return
		}

		switch action {
		case "use-suggested":
			payload, err := s.service.UseSuggestedSource(r.Context(), orgID, itemID)
			writeResult(w, payload, err)
		case "save-url":
			var body struct {
				URL string `json:"url"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveItemURL(r.Context(), orgID, itemID, body.URL)
			writeResult(w, payload, err)
		case "save-text":
			var body struct {
				Text string `json:"text"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveItemText(r.Context(), orgID, itemID, body.Text)
			writeResult(w, payload, err)
		case "save-transcript":
			var body struct {
				Transcript string `json:"transcript"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveItemTranscript(r.Context(), orgID, itemID, body.Transcript)
			writeResult(w, payload, err)
		case "upload":
			s.handleKnowledgeUpload(w, r, orgID, itemID)
		case "skip":
			payload, err := s.service.SkipKnowledgeItem(r.Context(), orgID, itemID)
			writeResult(w, payload, err)
		case "reopen":
			payload, err := s.service.ReopenKnowledgeItem(r.Context(), orgID, itemID)
			writeResult(w, payload, err)
		default:
			writeError(w, http.StatusNotFound, "not_found", "not found", nil)
		}
		return
	}

	if len(parts) == 3 && parts[2] == "base" {
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.GetKnowledgeBase(r.Context(), orgID)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 4 && parts[2] == "base" && parts[3] == "build" {
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionRunAI) {
				return
			}
			payload, err := s.service.BuildKnowledgeBase(r.Context(), orgID)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 3 && parts[2] == "interview" {
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.GetInterview(r.Context(), orgID)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 4 && parts[2] == "interview" {
		if r.Method == http.MethodPost && parts[3] == "message" {
			if !s.allow(w, session, rbac.ActionRunAI) {
				return
			}
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.InterviewMessage(r.Context(), orgID, body.Content)
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodPost && parts[3] == "restart" {
			if !s.allow(w, session, rbac.ActionRunAI) {
				return
			}
			payload, err := s.service.RestartInterview(r.Context(), orgID)
			writeResult(w, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "not found", nil)
}

func (s *HTTPServer) handleReadiness(w http.ResponseWriter, r *http.Request, session Session, orgID string, parts []string) {
	if len(parts) == 3 && parts[2] == "items" {
		if r.Method == http.MethodGet {
			if !s.allow(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.ListReadiness(r.Context(), orgID)
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionManageReadiness) {
				return
			}
			var body ReadinessItemInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.AddReadinessItem(r.Context(), orgID, body)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 4 && parts[2] == "items" {
		itemID := parts[3]
		if r.Method == http.MethodPatch {
			if !s.allow(w, session, rbac.ActionUpdateReadiness) {
				return
			}
			var body ReadinessStatusInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateReadiness(r.Context(), orgID, itemID, body)
			writeResult(w, payload, err)
			return
		}
		if r.Method == http.MethodDelete {
			if !s.allow(w, session, rbac.ActionManageReadiness) {
				return
			}
			payload, err := s.service.DeleteReadinessItem(r.Context(), orgID, itemID)
			writeResult(w, payload, err)
			return
		}
	}

	if len(parts) == 5 && parts[2] == "items" && parts[4] == "link-sop" {
		if r.Method == http.MethodPost {
			if !s.allow(w, session, rbac.ActionManageReadiness) {
				return
			}
			var body struct {
				SOPID string `json:"sopId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				return
			}
			payload, err := s.service.LinkReadinessItemSOP(r.Context(), orgID, parts[3], body.SOPID)
			writeResult(w, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "not found", nil)
}

// handleAIProxy serves the single action-dispatch endpoint. AI failures
// are reported inside a 200 envelope; only malformed requests and
// lookup failures surface as transport errors.
func (s *HTTPServer) handleAIProxy(w http.ResponseWriter, r *http.Request, orgID string) {
	var body struct {
		Action  string          `json:"action"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	data, err := s.service.DispatchAI(r.Context(), orgID, body.Action, body.Payload)
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrUnknownAction), errors.Is(err, ai.ErrBadPayload):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		case errors.Is(err, sql.ErrNoRows):
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *HTTPServer) handleKnowledgeUpload(w http.ResponseWriter, r *http.Request, orgID, itemID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds the upload limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file field is required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	payload, err := s.service.UploadItemFile(r.Context(), orgID, itemID, header.Filename, contentType, header.Size, file)
	writeResult(w, payload, err)
}

// Auth handlers.

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	result, err := s.service.AuthPasswordService().SignUp(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "conflict", "email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	s.service.SendVerificationMail(r.Context(), result.User.Email, result.VerificationToken)

	response := map[string]any{
		"userId":  result.User.ID,
		"message": "check your email to verify your account",
	}
	// Dev bypass: surface the token directly when no mail can go out.
	if !s.service.SMTPConfigured() {
		response["devVerificationToken"] = result.VerificationToken
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	result, err := s.service.AuthPasswordService().SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password", nil)
		return
	}
	if result.RequiresVerify {
		writeError(w, http.StatusForbidden, "forbidden", "verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), result.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"email":        session.Email,
		"role":         session.Role,
		"orgId":        session.OrgID,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if err := s.service.AuthPasswordService().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "email verified"})
}

func (s *HTTPServer) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	// Same response whether or not the account exists.
	token, _ := s.service.AuthPasswordService().RequestPasswordReset(r.Context(), body.Email)
	if token != "" {
		s.service.SendPasswordResetMail(r.Context(), body.Email, token)
	}

	response := map[string]any{"message": "if an account exists, a reset email has been sent"}
	if !s.service.SMTPConfigured() && token != "" {
		response["devResetToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if err := s.service.AuthPasswordService().ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password reset"})
}

// requireSession resolves the bearer token to a session and tags the
// request logger with the caller. The returned request carries the
// enriched context.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, *http.Request, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized", nil)
		return Session{}, r, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized", nil)
			return Session{}, r, false
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "session lookup failed", nil)
		return Session{}, r, false
	}

	logCtx := zerolog.Ctx(r.Context()).With().Str("user_id", session.UserID)
	if session.OrgID != nil {
		logCtx = logCtx.Str("org_id", *session.OrgID)
	}
	logger := logCtx.Logger()
	return session, r.WithContext(logger.WithContext(r.Context())), true
}

func (s *HTTPServer) requireOrg(w http.ResponseWriter, session Session) (string, bool) {
	if session.OrgID == nil || *session.OrgID == "" {
		writeError(w, http.StatusForbidden, "org_required", "complete onboarding first", nil)
		return "", false
	}
	return *session.OrgID, true
}

// allow writes a 403 when the session's role lacks the action.
func (s *HTTPServer) allow(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden", "forbidden", nil)
	return false
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		logger := s.service.log.With().Str("request_id", requestID).Logger()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(logger.WithContext(ctx))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func forceParam(r *http.Request) bool {
	return r.URL.Query().Get("force") == "true"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeResult(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "not_found", "not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "unauthorized", "unauthorized", nil
	}
	return http.StatusInternalServerError, "internal_error", "server error", nil
}
