package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("..", "..", "db", "migrations", name)
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(sqlBytes)
}

func TestSOPMigrationGuardsStatusValues(t *testing.T) {
	sqlText := readMigration(t, "0002_sops.up.sql")

	expectedSnippets := []string{
		"CHECK (status IN ('draft', 'published', 'archived'))",
		"idx_sops_org_status",
		"deleted_at",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	// Rows leave by soft delete, never by cascading hard deletes.
	if strings.Contains(sqlText, "ON DELETE CASCADE") {
		t.Fatal("expected soft-delete schema, found ON DELETE CASCADE")
	}
}

func TestKnowledgeMigrationKeepsOneBasePerOrg(t *testing.T) {
	sqlText := readMigration(t, "0003_knowledge.up.sql")

	expectedSnippets := []string{
		"UNIQUE REFERENCES organizations(id)",
		"CHECK (type IN ('LINK', 'PDF', 'DOCUMENT', 'VOICE', 'OTHER'))",
		"CHECK (status IN ('pending', 'provided', 'learned', 'skipped'))",
		"CHECK (status IN ('in_progress', 'complete'))",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestSearchMigrationUsesGeneratedColumns(t *testing.T) {
	sqlText := readMigration(t, "0006_search.up.sql")

	expectedSnippets := []string{
		"GENERATED ALWAYS AS",
		"USING GIN",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
