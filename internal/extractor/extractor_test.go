package extractor_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/subforge/subtran/internal/extractor"
	"github.com/subforge/subtran/internal/glossary"
	"github.com/subforge/subtran/internal/llm"
	"github.com/subforge/subtran/internal/prompts"
	"github.com/subforge/subtran/internal/subtitle"
)

type scriptedCaller struct {
	calls    atomic.Int64
	response string
	err      error
}

func (c *scriptedCaller) Call(_ context.Context, _ []llm.Message, _ float64) (string, error) {
	c.calls.Add(1)
	return c.response, c.err
}

func newTestStore(t *testing.T, dir string) *glossary.Store {
	t.Helper()
	base := t.TempDir()
	s, err := glossary.Open(glossary.Options{
		Dir:             dir,
		CuratedDBPath:   filepath.Join(base, "curated.db"),
		DiscoveryDBPath: filepath.Join(base, "discovery.db"),
		EnableDiscovery: true,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newExtractor(t *testing.T, client llm.Caller, store *glossary.Store) *extractor.Extractor {
	t.Helper()
	set, err := prompts.Load("zh")
	if err != nil {
		t.Fatalf("prompts.Load failed: %v", err)
	}
	return &extractor.Extractor{
		Client: client,
		Store:  store,
		Set:    set,
		Temp:   0.1,
		Log:    zerolog.Nop(),
	}
}

func cuesFromLines(lines ...string) []subtitle.Cue {
	cues := make([]subtitle.Cue, len(lines))
	for i, l := range lines {
		cues[i] = subtitle.Cue{ID: i + 1, Timestamp: "00:00:01,000 --> 00:00:02,000", Text: l}
	}
	return cues
}

func TestGlobalTermsDiscoversAndPersists(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	client := &scriptedCaller{response: `{"Aria": "阿莉亚"}`}
	ex := newExtractor(t, client, store)

	got := ex.GlobalTerms(context.Background(), cuesFromLines(
		"Aria looked at the station.",
		"The station lights flickered.",
		"Aria waited.",
	))

	if got["Aria"] != "阿莉亚" {
		t.Fatalf("discovered term missing: %v", got)
	}
	if n := client.calls.Load(); n < 5 {
		t.Errorf("expected at least 5 sampling calls, got %d", n)
	}
	listed, err := store.ListDiscovered()
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].Source != "Aria" {
		t.Errorf("discovery store not updated: %+v", listed)
	}
}

func TestGlobalTermsHistoricalWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "names.json"),
		[]byte(`[{"source_term": "Aria", "target_term": "艾丽娅"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t, dir)

	// The model disagrees with the curated file; the curated translation
	// must survive the merge.
	client := &scriptedCaller{response: `{"Aria": "阿莉亚"}`}
	ex := newExtractor(t, client, store)

	got := ex.GlobalTerms(context.Background(), cuesFromLines("Aria stepped forward."))
	if got["Aria"] != "艾丽娅" {
		t.Errorf("historical match should override discovery: %v", got)
	}
}

func TestGlobalTermsToleratesFailedCalls(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	client := &scriptedCaller{err: llm.ErrExhausted}
	ex := newExtractor(t, client, store)

	got := ex.GlobalTerms(context.Background(), cuesFromLines("Nothing special here."))
	if len(got) != 0 {
		t.Errorf("expected empty glossary, got %v", got)
	}
}
