package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCompaniesWorkbookName(t *testing.T) {
	now := time.Date(2026, 3, 7, 9, 5, 2, 0, time.UTC)
	if got, want := companiesWorkbookName(now), "companies_research_20260307_090502.xlsx"; got != want {
		t.Fatalf("name=%q, want %q", got, want)
	}
}

func TestReadCompaniesFile(t *testing.T) {
	content := "# batch one\nVeolia\n\n  Ferrovial  \n#Celsa\nBankinter\n"

	path := filepath.Join(t.TempDir(), "companies.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	want := []string{"Veolia", "Ferrovial", "Bankinter"}

	got, err := readCompaniesFile(path, nil)
	if err != nil {
		t.Fatalf("readCompaniesFile: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("file companies (-want +got):\n%s", diff)
	}

	got, err = readCompaniesFile("-", strings.NewReader(content))
	if err != nil {
		t.Fatalf("readCompaniesFile(stdin): %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stdin companies (-want +got):\n%s", diff)
	}

	if _, err := readCompaniesFile(filepath.Join(t.TempDir(), "missing.txt"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDedupeCompanies(t *testing.T) {
	got := dedupeCompanies([]string{"Acme", " acme ", "", "Globex", "ACME", "Initech"})
	want := []string{"Acme", "Globex", "Initech"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dedupe (-want +got):\n%s", diff)
	}
}
