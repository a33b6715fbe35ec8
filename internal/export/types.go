// Package export renders a SOP as a print-ready document. PDF output
// goes through headless Chrome, DOCX through pandoc.
package export

import (
	"context"
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// DataStore is the slice of the persistence layer export needs.
type DataStore interface {
	GetSOP(ctx context.Context, orgID, sopID string) (SOPInfo, error)
	GetOrg(ctx context.Context, orgID string) (OrgInfo, error)
	ListSteps(ctx context.Context, orgID, sopID string) ([]StepInfo, error)
}

type SOPInfo struct {
	ID        string
	Title     string
	Category  string
	Purpose   string
	Frequency string
	Status    string
	UpdatedAt time.Time
}

type StepInfo struct {
	StepNumber  int
	Title       string
	Description string
}

type OrgInfo struct {
	ID   string
	Name string
}

// Request identifies the SOP to export and the output format.
type Request struct {
	OrgID  string
	SOPID  string
	Format Format
}

// Result is the rendered document.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates a format other than pdf or docx was requested.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates headless Chrome is not installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
