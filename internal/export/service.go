package export

import (
	"context"
	"fmt"
)

type Service struct {
	store      DataStore
	chromePath string
	pandocPath string
}

// NewService builds the export pipeline. chromePath and pandocPath
// override binary discovery; empty values use the PATH defaults.
func NewService(store DataStore, chromePath, pandocPath string) *Service {
	if pandocPath == "" {
		pandocPath = "pandoc"
	}
	return &Service{store: store, chromePath: chromePath, pandocPath: pandocPath}
}

// Export renders the SOP in the requested format. Unpublished SOPs get
// a draft banner so a printout can never pass for an approved procedure.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	html, sop, err := s.renderHTML(ctx, req)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, sop.Title, s.chromePath)
	case FormatDOCX:
		return exportDOCX(html, sop.Title, s.pandocPath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) renderHTML(ctx context.Context, req Request) (string, SOPInfo, error) {
	sop, err := s.store.GetSOP(ctx, req.OrgID, req.SOPID)
	if err != nil {
		return "", SOPInfo{}, fmt.Errorf("get sop: %w", err)
	}

	org, err := s.store.GetOrg(ctx, req.OrgID)
	if err != nil {
		return "", SOPInfo{}, fmt.Errorf("get org: %w", err)
	}

	steps, err := s.store.ListSteps(ctx, req.OrgID, req.SOPID)
	if err != nil {
		return "", SOPInfo{}, fmt.Errorf("list steps: %w", err)
	}

	data := TemplateData{
		Title:     sop.Title,
		Category:  sop.Category,
		Purpose:   sop.Purpose,
		Frequency: sop.Frequency,
		OrgName:   org.Name,
		Draft:     sop.Status != "published",
		UpdatedAt: sop.UpdatedAt,
	}
	for _, st := range steps {
		data.Steps = append(data.Steps, TemplateStep{
			StepNumber:  st.StepNumber,
			Title:       st.Title,
			Description: st.Description,
		})
	}

	html, err := RenderSOPHTML(data)
	if err != nil {
		return "", SOPInfo{}, fmt.Errorf("render template: %w", err)
	}
	return html, sop, nil
}
