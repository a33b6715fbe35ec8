package files

import "testing"

func TestKnowledgeKey(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		want     string
	}{
		{name: "plain", filename: "license.pdf", want: "knowledge/org_1/itm_2/license.pdf"},
		{name: "path traversal stripped", filename: "../../etc/passwd", want: "knowledge/org_1/itm_2/passwd"},
		{name: "spaces replaced", filename: "fire drill log.pdf", want: "knowledge/org_1/itm_2/fire-drill-log.pdf"},
		{name: "empty falls back", filename: "", want: "knowledge/org_1/itm_2/file"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KnowledgeKey("org_1", "itm_2", tc.filename); got != tc.want {
				t.Fatalf("KnowledgeKey() = %q, want %q", got, tc.want)
			}
		})
	}
}
