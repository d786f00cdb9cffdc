package glossary_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/subforge/subtran/internal/glossary"
)

func newStore(t *testing.T, dir string, reverse bool) *glossary.Store {
	t.Helper()
	base := t.TempDir()
	s, err := glossary.Open(glossary.Options{
		Dir:             dir,
		CuratedDBPath:   filepath.Join(base, "curated.db"),
		DiscoveryDBPath: filepath.Join(base, "discovery.db"),
		EnableDiscovery: true,
		Reverse:         reverse,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeGlossaryFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestAndExtract(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, dir, "show.json",
		`[{"source_term": "Knight Rider", "target_term": "霹雳游侠"},
		  {"source_term": "turbo boost", "target_term": "涡轮增压", "category": "Tech"}]`)

	s := newStore(t, dir, false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	got := s.ExtractTerms("Tonight on KNIGHT RIDER: hit the Turbo Boost button!")
	if got["Knight Rider"] != "霹雳游侠" {
		t.Errorf("case-insensitive match failed: %v", got)
	}
	if got["turbo boost"] != "涡轮增压" {
		t.Errorf("second term not matched: %v", got)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 matches, got %v", got)
	}

	if got := s.ExtractTerms("nothing relevant here"); len(got) != 0 {
		t.Errorf("unexpected matches: %v", got)
	}
}

func TestIncrementalUpdate_SkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, dir, "a.json", `[{"source_term": "a", "target_term": "甲"}]`)

	s := newStore(t, dir, false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	n, err := s.IncrementalUpdate()
	if err != nil {
		t.Fatalf("IncrementalUpdate failed: %v", err)
	}
	if n != 0 {
		t.Errorf("unchanged file re-ingested: count %d", n)
	}

	writeGlossaryFile(t, dir, "a.json", `[{"source_term": "a", "target_term": "乙"}]`)
	n, err = s.IncrementalUpdate()
	if err != nil {
		t.Fatalf("IncrementalUpdate failed: %v", err)
	}
	if n != 1 {
		t.Errorf("changed file not re-ingested: count %d", n)
	}
}

func TestIncrementalUpdate_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, dir, "nested/deep.json", `[{"source_term": "nested term", "target_term": "嵌套"}]`)

	s := newStore(t, dir, false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := s.ExtractTerms("a nested term appears"); got["nested term"] != "嵌套" {
		t.Errorf("nested file not ingested: %v", got)
	}
}

func TestIngest_ObjectFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, dir, "bad.json", `{"source_term": "x", "target_term": "y"}`)
	writeGlossaryFile(t, dir, "good.json", `[{"source_term": "good", "target_term": "好"}]`)

	s := newStore(t, dir, false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	got := s.ExtractTerms("good and x")
	if got["good"] != "好" {
		t.Errorf("valid file not ingested: %v", got)
	}
	if _, ok := got["x"]; ok {
		t.Error("object-shaped file should have been skipped")
	}
}

func TestIngest_InvalidFileDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, dir, "broken.json", `[{"source_term": `)
	writeGlossaryFile(t, dir, "ok.json", `[{"source_term": "ok", "target_term": "行"}]`)

	s := newStore(t, dir, false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize should survive one broken file: %v", err)
	}
	if got := s.ExtractTerms("ok then"); got["ok"] != "行" {
		t.Errorf("valid file lost: %v", got)
	}
}

func TestSaveTerms_CuratedShadow(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, dir, "curated.json", `[{"source_term": "Knight Rider", "target_term": "霹雳游侠"}]`)

	s := newStore(t, dir, false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.SaveTerms(map[string]string{"knight rider": "骑士骑手"}, glossary.DiscoveryCategory); err != nil {
		t.Fatalf("SaveTerms failed: %v", err)
	}

	// Curated translation survives.
	if got := s.ExtractTerms("knight rider returns"); got["Knight Rider"] != "霹雳游侠" {
		t.Errorf("curated term shadowed by discovery: %v", got)
	}

	// Discovery store must not receive the curated term.
	disc, err := s.ListDiscovered()
	if err != nil {
		t.Fatalf("ListDiscovered failed: %v", err)
	}
	if len(disc) != 0 {
		t.Errorf("curated term leaked into discovery store: %v", disc)
	}
}

func TestSaveTerms_NewAndDuplicate(t *testing.T) {
	s := newStore(t, t.TempDir(), false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.SaveTerms(map[string]string{"KITT": "基特"}, glossary.DiscoveryCategory); err != nil {
		t.Fatalf("SaveTerms failed: %v", err)
	}
	if got := s.ExtractTerms("KITT speaks"); got["KITT"] != "基特" {
		t.Errorf("discovered term not matchable: %v", got)
	}

	// Identical target again: still exactly one row.
	if err := s.SaveTerms(map[string]string{"KITT": "基特"}, glossary.DiscoveryCategory); err != nil {
		t.Fatalf("SaveTerms failed: %v", err)
	}
	disc, err := s.ListDiscovered()
	if err != nil {
		t.Fatalf("ListDiscovered failed: %v", err)
	}
	if len(disc) != 1 {
		t.Errorf("duplicate save changed the store: %v", disc)
	}

	// Blank terms never enter.
	if err := s.SaveTerms(map[string]string{"  ": "x", "y": " "}, glossary.DiscoveryCategory); err != nil {
		t.Fatalf("SaveTerms failed: %v", err)
	}
	if s.TermCount() != 1 {
		t.Errorf("blank terms entered the index: count %d", s.TermCount())
	}
}

func TestReverseMode(t *testing.T) {
	dir := t.TempDir()
	writeGlossaryFile(t, dir, "terms.json",
		`[{"source_term": "Knight Rider", "target_term": "霹雳游侠，夜行侠"},
		  {"source_term": "break a leg", "target_term": "祝好运", "category": "Idioms"}]`)

	s := newStore(t, dir, true)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Fullwidth-comma fragments each become a key mapping back to the source.
	got := s.ExtractTerms("字幕里出现了霹雳游侠")
	if got["霹雳游侠"] != "Knight Rider" {
		t.Errorf("reverse lookup failed: %v", got)
	}
	got = s.ExtractTerms("也叫夜行侠")
	if got["夜行侠"] != "Knight Rider" {
		t.Errorf("comma fragment not indexed: %v", got)
	}

	// Blacklisted category excluded from the reverse index.
	if got := s.ExtractTerms("祝好运"); len(got) != 0 {
		t.Errorf("idiom leaked into reverse index: %v", got)
	}
}

func TestAddCurated(t *testing.T) {
	s := newStore(t, t.TempDir(), false)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if err := s.AddCurated("Devon", "德文", ""); err != nil {
		t.Fatalf("AddCurated failed: %v", err)
	}
	if got := s.ExtractTerms("Devon calls"); got["Devon"] != "德文" {
		t.Errorf("manually added term not matched: %v", got)
	}

	terms, err := s.ListCurated()
	if err != nil {
		t.Fatalf("ListCurated failed: %v", err)
	}
	if len(terms) != 1 || terms[0].Category != "General" {
		t.Errorf("unexpected curated rows: %v", terms)
	}

	if err := s.AddCurated(" ", "x", ""); err == nil {
		t.Error("blank source should be rejected")
	}
}
