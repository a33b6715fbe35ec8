package app

import (
	"context"

	"ezsop/api/internal/export"
	"ezsop/api/internal/store"
)

// exportSource is the slice of the store the document renderer reads.
type exportSource interface {
	GetSOP(context.Context, string, string) (store.SOP, error)
	GetOrganization(context.Context, string) (store.Organization, error)
	ListSteps(context.Context, string, string) ([]store.SOPStep, error)
}

type exportStore struct {
	src exportSource
}

// NewExportStore adapts the persistence layer to the renderer's view of
// it.
func NewExportStore(src *store.PostgresStore) export.DataStore {
	return exportStore{src: src}
}

func (e exportStore) GetSOP(ctx context.Context, orgID, sopID string) (export.SOPInfo, error) {
	sop, err := e.src.GetSOP(ctx, orgID, sopID)
	if err != nil {
		return export.SOPInfo{}, err
	}
	return export.SOPInfo{
		ID:        sop.ID,
		Title:     sop.Title,
		Category:  sop.Category,
		Purpose:   sop.Purpose,
		Frequency: sop.Frequency,
		Status:    sop.Status,
		UpdatedAt: sop.UpdatedAt,
	}, nil
}

func (e exportStore) GetOrg(ctx context.Context, orgID string) (export.OrgInfo, error) {
	org, err := e.src.GetOrganization(ctx, orgID)
	if err != nil {
		return export.OrgInfo{}, err
	}
	return export.OrgInfo{ID: org.ID, Name: org.Name}, nil
}

func (e exportStore) ListSteps(ctx context.Context, orgID, sopID string) ([]export.StepInfo, error) {
	steps, err := e.src.ListSteps(ctx, orgID, sopID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.StepInfo, 0, len(steps))
	for _, step := range steps {
		infos = append(infos, export.StepInfo{
			StepNumber:  step.StepNumber,
			Title:       step.Title,
			Description: step.Description,
		})
	}
	return infos, nil
}
