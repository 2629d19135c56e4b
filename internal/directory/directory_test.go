package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/antoniostano/nessievoice/internal/session"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Alice":          "alice",
		" alice. ":       "alice",
		"San Francisco!": "sanfrancisco",
		"O'Brien":        "obrien",
		"123":            "",
		"":               "",
		"Zoë":            "zoë",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatches(t *testing.T) {
	if !Matches("johnson.", "Johnson") {
		t.Fatalf("Matches(johnson., Johnson) = false, want true")
	}
	if Matches("Jonson", "Johnson") {
		t.Fatalf("Matches(Jonson, Johnson) = true, want false")
	}
	if Matches("...", "") {
		t.Fatalf("Matches on empty answers = true, want false")
	}
}

func TestResolve(t *testing.T) {
	d := New([]Identity{{
		Name:       "Alice",
		CustomerID: "c1",
		AccountID:  "a1",
		Questions:  []session.SecurityQuestion{{Question: "Pet?", Answer: "Bobby"}},
	}})

	got, err := d.Resolve("  alice.")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.AccountID != "a1" || len(got.Questions) != 1 {
		t.Fatalf("Resolve() = %+v", got)
	}
	got.Questions[0].Answer = "mutated"
	again, _ := d.Resolve("Alice")
	if again.Questions[0].Answer != "Bobby" {
		t.Fatalf("directory mutated through Resolve result")
	}

	for _, name := range []string{"Bob", "", "!!"} {
		if _, err := d.Resolve(name); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callers.yaml")
	doc := `callers:
  - name: Tom
    customer_id: c2
    account_id: a2
    security_questions:
      - question: What is your mother's maiden name?
        answer: Brown
      - question: What was the name of your first pet?
        answer: Max
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	d, err := Load(context.Background(), path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", d.Len())
	}
	id, err := d.Resolve("tom")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Questions[0].Answer != "Brown" || id.Questions[1].Answer != "Max" {
		t.Fatalf("Questions = %+v, want file order", id.Questions)
	}
}

func TestParseFileRejectsEntriesWithoutQuestions(t *testing.T) {
	_, err := parseFile([]byte("callers:\n  - name: Sam\n    customer_id: c3\n"))
	if err == nil {
		t.Fatalf("parseFile() error = nil, want missing questions error")
	}
}

func TestLoadWithoutSourceIsEmpty(t *testing.T) {
	d, err := Load(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", d.Len())
	}
}
