// Package glossary is the persistent bilingual term store.
//
// Terms live in two sqlite databases: a curated store maintained by hand
// (ingested incrementally from JSON files in a glossary directory) and a
// discovery store holding machine-proposed terms. The merged in-memory view
// always lets curated shadow discovery. Substring matching over the merged
// view runs on an Aho-Corasick automaton rebuilt whenever the view changes.
package glossary

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/cloudflare/ahocorasick"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

// DiscoveryCategory marks terms proposed by the LLM during a run.
const DiscoveryCategory = "LLM_Discovered"

// reverseBlacklist names categories excluded from the reverse index. Idioms
// and slang rarely survive a round trip and would pollute back-translation.
var reverseBlacklist = map[string]bool{"idioms": true, "slang": true}

// Options configures a Store.
type Options struct {
	Dir             string
	CuratedDBPath   string
	DiscoveryDBPath string
	EnableDiscovery bool
	// Reverse keys the in-memory index on target terms instead of sources,
	// splitting multi-valued targets on commas, for back-translation runs.
	Reverse bool
	Logger  zerolog.Logger
}

// entry is one key of the in-memory index: the display form of the key and
// the translation to hand to the LLM.
type entry struct {
	display     string
	translation string
}

// Store is the process-wide glossary. Initialize must complete before any
// concurrent use; afterwards reads take a snapshot and SaveTerms is the
// single writer.
type Store struct {
	opts      Options
	curated   *sql.DB
	discovery *sql.DB
	log       zerolog.Logger

	mu             sync.RWMutex
	entries        map[string]entry  // folded key -> entry
	curatedSources map[string]bool   // folded source terms present in curated
	discoveryTerms map[string]string // folded source -> target in discovery
	patterns       []string          // folded keys, aligned with matcher ids
	matcher        *ahocorasick.Matcher
}

// Open opens both backing databases and creates their tables.
func Open(opts Options) (*Store, error) {
	curated, err := sql.Open("sqlite", opts.CuratedDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open curated store: %w", err)
	}
	discovery, err := sql.Open("sqlite", opts.DiscoveryDBPath)
	if err != nil {
		curated.Close()
		return nil, fmt.Errorf("failed to open discovery store: %w", err)
	}

	s := &Store{
		opts:      opts,
		curated:   curated,
		discovery: discovery,
		log:       opts.Logger,
	}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate glossary stores: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	terms := `
	CREATE TABLE IF NOT EXISTS terms (
		source_term TEXT PRIMARY KEY,
		target_term TEXT NOT NULL,
		category TEXT DEFAULT 'General',
		source_file TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := s.curated.Exec(terms + `
	CREATE TABLE IF NOT EXISTS file_hashes (
		filename TEXT PRIMARY KEY,
		file_hash TEXT NOT NULL,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return err
	}

	_, err := s.discovery.Exec(terms)
	return err
}

// Initialize ingests changed curated files and loads both stores into the
// in-memory index, discovery first so curated overlays it.
func (s *Store) Initialize() error {
	changed, err := s.IncrementalUpdate()
	if err != nil {
		return err
	}
	if changed > 0 {
		s.log.Info().Int("files", changed).Msg("curated glossary files re-ingested")
	}

	if err := s.loadToMemory(); err != nil {
		return err
	}
	s.log.Info().Int("terms", len(s.entries)).Bool("reverse", s.opts.Reverse).Msg("glossary loaded")
	return nil
}

// IncrementalUpdate scans the curated directory recursively and re-ingests
// every JSON file whose content digest changed. Individual file failures are
// logged and skipped. Returns the number of files re-ingested.
func (s *Store) IncrementalUpdate() (int, error) {
	if _, err := os.Stat(s.opts.Dir); os.IsNotExist(err) {
		s.log.Warn().Str("dir", s.opts.Dir).Msg("glossary directory missing, creating")
		if err := os.MkdirAll(s.opts.Dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create glossary directory: %w", err)
		}
		return 0, nil
	}

	files, err := doublestar.Glob(os.DirFS(s.opts.Dir), "**/*.json")
	if err != nil {
		return 0, fmt.Errorf("failed to scan glossary directory: %w", err)
	}

	known := make(map[string]string)
	rows, err := s.curated.Query(`SELECT filename, file_hash FROM file_hashes`)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			rows.Close()
			return 0, err
		}
		known[name] = hash
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(s.opts.Dir, name))
		if err != nil {
			s.log.Error().Err(err).Str("file", name).Msg("failed to read glossary file")
			continue
		}

		digest := fmt.Sprintf("%016x", xxhash.Sum64(data))
		if known[name] == digest {
			continue
		}

		if err := s.ingestFile(name, data); err != nil {
			s.log.Error().Err(err).Str("file", name).Msg("failed to ingest glossary file")
			continue
		}

		if _, err := s.curated.Exec(
			`INSERT OR REPLACE INTO file_hashes (filename, file_hash, processed_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			name, digest,
		); err != nil {
			s.log.Error().Err(err).Str("file", name).Msg("failed to record glossary file digest")
			continue
		}
		updated++
	}
	return updated, nil
}

type fileTerm struct {
	SourceTerm string `json:"source_term"`
	TargetTerm string `json:"target_term"`
	Category   string `json:"category"`
}

func (s *Store) ingestFile(name string, data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		// Curated files are JSON arrays; a lone object is skipped, not fatal.
		s.log.Warn().Str("file", name).Msg("glossary file is a JSON object, expected an array; skipping")
		return nil
	}

	var items []fileTerm
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	tx, err := s.curated.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range items {
		source := strings.TrimSpace(item.SourceTerm)
		target := strings.TrimSpace(item.TargetTerm)
		if source == "" || target == "" {
			continue
		}
		category := item.Category
		if category == "" {
			category = "General"
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO terms (source_term, target_term, category, source_file, updated_at)
			 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			source, target, category, name,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// loadToMemory rebuilds the merged index: discovery rows first, then curated
// rows overlaying them key by key.
func (s *Store) loadToMemory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]entry)
	s.curatedSources = make(map[string]bool)
	s.discoveryTerms = make(map[string]string)

	load := func(db *sql.DB, curated bool) error {
		rows, err := db.Query(`SELECT source_term, target_term, category FROM terms`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var source, target, category string
			if err := rows.Scan(&source, &target, &category); err != nil {
				return err
			}
			source, target = strings.TrimSpace(source), strings.TrimSpace(target)
			if source == "" || target == "" {
				continue
			}
			if curated {
				s.curatedSources[fold(source)] = true
			} else {
				s.discoveryTerms[fold(source)] = target
			}
			for key, e := range buildEntries(source, target, category, s.opts.Reverse) {
				s.entries[key] = e
			}
		}
		return rows.Err()
	}

	if err := load(s.discovery, false); err != nil {
		return fmt.Errorf("failed to load discovery store: %w", err)
	}
	if err := load(s.curated, true); err != nil {
		return fmt.Errorf("failed to load curated store: %w", err)
	}

	s.rebuildMatcherLocked()
	return nil
}

// buildEntries maps one stored term to its in-memory index keys. In reverse
// mode the target becomes the lookup side, comma-separated targets fan out
// into one key per fragment, and blacklisted categories are dropped.
func buildEntries(source, target, category string, reverse bool) map[string]entry {
	out := make(map[string]entry)
	if !reverse {
		out[fold(source)] = entry{display: source, translation: target}
		return out
	}

	if reverseBlacklist[strings.ToLower(strings.TrimSpace(category))] {
		return out
	}
	for _, frag := range strings.FieldsFunc(target, func(r rune) bool {
		return r == ',' || r == '，'
	}) {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}
		out[fold(frag)] = entry{display: frag, translation: source}
	}
	return out
}

func (s *Store) rebuildMatcherLocked() {
	s.patterns = s.patterns[:0]
	for key := range s.entries {
		s.patterns = append(s.patterns, key)
	}
	if len(s.patterns) == 0 {
		s.matcher = nil
		return
	}
	s.matcher = ahocorasick.NewStringMatcher(s.patterns)
}

// ExtractTerms returns every known term occurring in text (case-insensitive)
// with its canonical translation, keyed by the term's display form.
func (s *Store) ExtractTerms(text string) map[string]string {
	s.mu.RLock()
	matcher, patterns, entries := s.matcher, s.patterns, s.entries
	s.mu.RUnlock()

	result := make(map[string]string)
	if matcher == nil {
		return result
	}
	for _, hit := range matcher.Match([]byte(fold(text))) {
		if e, ok := entries[patterns[hit]]; ok {
			result[e.display] = e.translation
		}
	}
	return result
}

// SaveTerms records newly discovered terms. Terms already curated are
// skipped entirely; discovery terms with an unchanged target are skipped;
// everything else is upserted into the discovery store (when persistence is
// enabled) and added to the in-memory index if not already present.
func (s *Store) SaveTerms(terms map[string]string, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for source, target := range terms {
		source, target = strings.TrimSpace(source), strings.TrimSpace(target)
		if source == "" || target == "" {
			continue
		}

		key := fold(source)
		if s.curatedSources[key] {
			continue
		}
		if existing, ok := s.discoveryTerms[key]; ok && existing == target {
			continue
		}

		if s.opts.EnableDiscovery {
			if _, err := s.discovery.Exec(
				`INSERT OR REPLACE INTO terms (source_term, target_term, category, source_file, updated_at)
				 VALUES (?, ?, ?, 'llm', CURRENT_TIMESTAMP)`,
				source, target, category,
			); err != nil {
				// Persistence is best-effort; the in-memory index still works.
				s.log.Error().Err(err).Str("term", source).Msg("failed to persist discovered term")
			}
		}
		s.discoveryTerms[key] = target

		for k, e := range buildEntries(source, target, category, s.opts.Reverse) {
			if _, exists := s.entries[k]; !exists {
				s.entries[k] = e
				added = true
			}
		}
	}

	if added {
		s.rebuildMatcherLocked()
	}
	return nil
}

// TermCount returns the size of the in-memory index.
func (s *Store) TermCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Term is a stored glossary row, used by the glossary CLI commands.
type Term struct {
	Source   string
	Target   string
	Category string
	File     string
}

// ListCurated returns all curated terms ordered by source.
func (s *Store) ListCurated() ([]Term, error) {
	return listTerms(s.curated)
}

// ListDiscovered returns all discovery terms ordered by source.
func (s *Store) ListDiscovered() ([]Term, error) {
	return listTerms(s.discovery)
}

func listTerms(db *sql.DB) ([]Term, error) {
	rows, err := db.Query(`SELECT source_term, target_term, category, COALESCE(source_file, '') FROM terms ORDER BY source_term`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []Term
	for rows.Next() {
		var t Term
		if err := rows.Scan(&t.Source, &t.Target, &t.Category, &t.File); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// AddCurated inserts a term directly into the curated store and refreshes
// the in-memory index.
func (s *Store) AddCurated(source, target, category string) error {
	source, target = strings.TrimSpace(source), strings.TrimSpace(target)
	if source == "" || target == "" {
		return fmt.Errorf("source and target terms must be non-empty")
	}
	if category == "" {
		category = "General"
	}
	if _, err := s.curated.Exec(
		`INSERT OR REPLACE INTO terms (source_term, target_term, category, source_file, updated_at)
		 VALUES (?, ?, ?, 'manual', CURRENT_TIMESTAMP)`,
		source, target, category,
	); err != nil {
		return fmt.Errorf("failed to insert curated term: %w", err)
	}
	return s.loadToMemory()
}

// Close closes both backing databases.
func (s *Store) Close() error {
	err1 := s.curated.Close()
	err2 := s.discovery.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// fold normalizes a term for lookup: NFC, trimmed, case-folded. Original
// case is preserved separately for display.
func fold(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
