package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeDataStore struct {
	sop    SOPInfo
	org    OrgInfo
	steps  []StepInfo
	sopErr error
}

func (f *fakeDataStore) GetSOP(_ context.Context, _, _ string) (SOPInfo, error) {
	if f.sopErr != nil {
		return SOPInfo{}, f.sopErr
	}
	return f.sop, nil
}

func (f *fakeDataStore) GetOrg(_ context.Context, _ string) (OrgInfo, error) {
	return f.org, nil
}

func (f *fakeDataStore) ListSteps(_ context.Context, _, _ string) ([]StepInfo, error) {
	return f.steps, nil
}

func testStore(status string) *fakeDataStore {
	return &fakeDataStore{
		sop: SOPInfo{
			ID:        "sop-1",
			Title:     "Fire Drill",
			Category:  "Safety",
			Purpose:   "Keep residents safe during a fire.",
			Frequency: "quarterly",
			Status:    status,
			UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		org: OrgInfo{ID: "org-1", Name: "Maple House"},
		steps: []StepInfo{
			{StepNumber: 1, Title: "Sound alarm", Description: "Pull the nearest station."},
			{StepNumber: 2, Title: "Evacuate", Description: "Use the posted routes."},
		},
	}
}

func TestRenderHTMLPublishedSOP(t *testing.T) {
	svc := NewService(testStore("published"), "", "")

	html, sop, err := svc.renderHTML(context.Background(), Request{OrgID: "org-1", SOPID: "sop-1"})
	if err != nil {
		t.Fatalf("renderHTML() error = %v", err)
	}
	if sop.Title != "Fire Drill" {
		t.Fatalf("renderHTML() sop title = %q", sop.Title)
	}
	for _, want := range []string{"Fire Drill", "Maple House", "Safety", "quarterly", "Keep residents safe", "Sound alarm", "Use the posted routes", "Jun 1, 2025"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
	if strings.Contains(html, "draft-banner") {
		t.Error("published SOP should not carry the draft banner")
	}
}

func TestRenderHTMLDraftBanner(t *testing.T) {
	svc := NewService(testStore("draft"), "", "")

	html, _, err := svc.renderHTML(context.Background(), Request{OrgID: "org-1", SOPID: "sop-1"})
	if err != nil {
		t.Fatalf("renderHTML() error = %v", err)
	}
	if !strings.Contains(html, "Draft: not approved for use") {
		t.Error("draft SOP should carry the draft banner")
	}
}

func TestRenderHTMLEscapesStepText(t *testing.T) {
	st := testStore("published")
	st.steps = []StepInfo{{StepNumber: 1, Title: "<script>alert(1)</script>", Description: "a < b"}}
	svc := NewService(st, "", "")

	html, _, err := svc.renderHTML(context.Background(), Request{OrgID: "org-1", SOPID: "sop-1"})
	if err != nil {
		t.Fatalf("renderHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("step title was not escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Error("expected escaped step title in output")
	}
}

func TestExportPropagatesStoreError(t *testing.T) {
	svc := NewService(&fakeDataStore{sopErr: errors.New("sop not found")}, "", "")

	if _, err := svc.Export(context.Background(), Request{OrgID: "org-1", SOPID: "nope", Format: FormatPDF}); err == nil {
		t.Fatal("Export() expected error for missing SOP")
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService(testStore("published"), "", "")

	_, err := svc.Export(context.Background(), Request{OrgID: "org-1", SOPID: "sop-1", Format: Format("xlsx")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Fire Drill", "Fire-Drill"},
		{"Med Pass v1.2", "Med-Pass-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "sop"},
		{"Very Long Title That Goes On Well Past Fifty Characters", "Very-Long-Title-That-Goes-On-Well-Past-Fifty-Chara"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
