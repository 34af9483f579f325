package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nishad/metamix/internal/taxonomy"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alignments.tsv")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadAlignmentsGroupsByConsecutiveReadName(t *testing.T) {
	path := writeTemp(t, "read1\tti|9606|\t-1.5\nread1\tti|562|\t-2.0\nread2\tti|9606|\t-0.5\n")

	taxa := taxonomy.NewMap()
	got, err := LoadAlignments(path, taxa)
	if err != nil {
		t.Fatalf("LoadAlignments: %v", err)
	}
	if got.Reads != 2 {
		t.Fatalf("expected 2 reads, got %d", got.Reads)
	}
	if len(got.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got.Entries))
	}
	if taxa.Len() != 2 {
		t.Fatalf("expected 2 distinct taxa, got %d", taxa.Len())
	}
}

func TestLoadAlignmentsKeepsMaxLogProbPerPair(t *testing.T) {
	path := writeTemp(t, "read1\tti|9606|\t-3.0\nread1\tti|9606|\t-1.0\n")

	taxa := taxonomy.NewMap()
	got, err := LoadAlignments(path, taxa)
	if err != nil {
		t.Fatalf("LoadAlignments: %v", err)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("expected duplicate (read,taxon) collapsed to 1 entry, got %d", len(got.Entries))
	}
	if got.Entries[0].Value != -1.0 {
		t.Errorf("expected max log_prob -1.0 retained, got %v", got.Entries[0].Value)
	}
}

func TestLoadAlignmentsSkipsBlankAndCommentLines(t *testing.T) {
	path := writeTemp(t, "# header\n\nread1\tti|9606|\t-1.0\n")

	taxa := taxonomy.NewMap()
	got, err := LoadAlignments(path, taxa)
	if err != nil {
		t.Fatalf("LoadAlignments: %v", err)
	}
	if got.Reads != 1 || len(got.Entries) != 1 {
		t.Fatalf("expected 1 read and 1 entry, got reads=%d entries=%d", got.Reads, len(got.Entries))
	}
}

func TestLoadAlignmentsRejectsMalformedRow(t *testing.T) {
	path := writeTemp(t, "read1\tti|9606|\n")

	taxa := taxonomy.NewMap()
	if _, err := LoadAlignments(path, taxa); err == nil {
		t.Fatal("expected an error for a row missing the log_prob field")
	}
}
