// Package pipeline drives an end-to-end translation run: task glossary,
// prefetched literal stage, serial polish stage, bilingual output assembly
// and checkpointing.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/subforge/subtran/internal/config"
	"github.com/subforge/subtran/internal/extractor"
	"github.com/subforge/subtran/internal/glossary"
	"github.com/subforge/subtran/internal/ladder"
	"github.com/subforge/subtran/internal/llm"
	"github.com/subforge/subtran/internal/prompts"
	"github.com/subforge/subtran/internal/subtitle"
)

// prefetchWindow is how many literal-stage batches may run ahead of the
// serial polish cursor.
const prefetchWindow = 3

// contextLines is how many rolling-context lines survive a checkpoint.
const contextLines = 3

// Runner owns one translation run. The transport is taken as an interface so
// tests can script the model.
type Runner struct {
	Config *config.Config
	Client llm.Caller
	Store  *glossary.Store
	Set    *prompts.Set
	Log    zerolog.Logger

	InputPath     string
	OutputPath    string
	ProgressPath  string
	GlossaryCache string

	// Quiet suppresses the progress bar (tests, non-tty runs).
	Quiet bool
}

// literalResult is the payload of one prefetched literal-stage future.
type literalResult struct {
	literal      map[int]string
	glossaryText string
}

// Run executes the pipeline to completion. It only fails on unusable input
// or catastrophic I/O at startup; per-cue translation failures degrade to
// pass-through output instead.
func (r *Runner) Run(ctx context.Context) error {
	log := r.Log.With().Str("run_id", uuid.NewString()).Logger()

	in, err := os.Open(r.InputPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	cues, err := subtitle.Parse(in, log)
	in.Close()
	if err != nil {
		return fmt.Errorf("parsing input: %w", err)
	}
	if len(cues) == 0 {
		return fmt.Errorf("no cues found in %s", r.InputPath)
	}
	log.Info().Int("cues", len(cues)).Str("input", r.InputPath).Msg("input parsed")

	taskGlossary := r.taskGlossary(ctx, log, cues)

	progress, err := LoadProgress(r.ProgressPath)
	if err != nil {
		log.Warn().Err(err).Msg("progress file unusable, starting fresh")
		progress = &Progress{OutputBlockIndex: 1}
	}
	processed := progress.ProcessedSet()

	var remaining []subtitle.Cue
	for _, c := range cues {
		if !processed[fmt.Sprintf("%d", c.ID)] {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		log.Info().Msg("all cues already processed, nothing to do")
		return nil
	}
	if len(processed) == 0 {
		// Fresh run: any stale output from an earlier attempt is discarded.
		if err := os.WriteFile(r.OutputPath, nil, 0644); err != nil {
			return fmt.Errorf("truncating output: %w", err)
		}
		progress.OutputBlockIndex = 1
		progress.LastContext = ""
	}

	out, err := os.OpenFile(r.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer out.Close()

	batches := partition(remaining, r.Config.BatchSize)
	log.Info().Int("remaining", len(remaining)).Int("batches", len(batches)).Msg("starting translation")

	bar := progressbar.Default(int64(len(batches)), "translating")
	if r.Quiet {
		bar = progressbar.DefaultSilent(int64(len(batches)))
	}

	engine := &ladder.Engine{Client: r.Client, Log: log}
	futures := make([]chan literalResult, len(batches))
	launch := func(i int) {
		if futures[i] != nil {
			return
		}
		ch := make(chan literalResult, 1)
		futures[i] = ch
		batch := batches[i]
		go func() {
			ch <- r.literalBatch(ctx, engine, batch, taskGlossary)
		}()
	}

	degraded := 0
	for i, batch := range batches {
		for j := i; j < len(batches) && j <= i+prefetchWindow; j++ {
			launch(j)
		}
		lit := <-futures[i]

		rolling := progress.LastContext
		if rolling == "" {
			rolling = "None"
		}
		polishStage := &ladder.Polish{Set: r.Set, Temp: r.Config.TempPolish, Literal: lit.literal}
		items, rolling := engine.Run(ctx, polishStage, batch, lit.glossaryText, rolling)

		for k, cue := range batch {
			final := items[k].Text
			if final == "" {
				final = lit.literal[cue.ID]
			}
			if final == "" {
				final = cue.Text
				degraded++
			}
			if r.Config.Bilingual {
				if _, err := out.WriteString(subtitle.FormatBlock(progress.OutputBlockIndex, cue.Timestamp, cue.Text)); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
				progress.OutputBlockIndex++
			}
			if _, err := out.WriteString(subtitle.FormatBlock(progress.OutputBlockIndex, cue.Timestamp, final)); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			progress.OutputBlockIndex++
			progress.MarkProcessed(cue.ID)
		}

		progress.LastContext = ladder.ContextTail(rolling, contextLines)
		if err := progress.Save(r.ProgressPath); err != nil {
			// Best effort: the next checkpoint overwrites.
			log.Warn().Err(err).Msg("checkpoint write failed")
		}
		bar.Add(1)
	}

	if degraded > 0 {
		log.Warn().Int("count", degraded).Msg("cues kept original text after all fallbacks")
	}
	log.Info().Int("cues", len(remaining)).Str("output", r.OutputPath).Msg("translation complete")
	return nil
}

// taskGlossary loads the cached task glossary for this input, or extracts a
// fresh one and caches it.
func (r *Runner) taskGlossary(ctx context.Context, log zerolog.Logger, cues []subtitle.Cue) map[string]string {
	if data, err := os.ReadFile(r.GlossaryCache); err == nil {
		var cached map[string]string
		if err := json.Unmarshal(data, &cached); err == nil {
			log.Info().Int("terms", len(cached)).Msg("task glossary loaded from cache")
			return cached
		}
		log.Warn().Str("path", r.GlossaryCache).Msg("glossary cache unreadable, re-extracting")
	}

	ex := &extractor.Extractor{
		Client: r.Client,
		Store:  r.Store,
		Set:    r.Set,
		Temp:   r.Config.TempTerms,
		Log:    log,
	}
	terms := ex.GlobalTerms(ctx, cues)

	if data, err := json.Marshal(terms); err == nil {
		if err := os.WriteFile(r.GlossaryCache, data, 0644); err != nil {
			log.Warn().Err(err).Msg("could not write glossary cache")
		}
	}
	return terms
}

// literalBatch runs the context-free literal stage for one batch and returns
// the draft map together with the batch-relevant glossary snippet that the
// polish stage reuses.
func (r *Runner) literalBatch(ctx context.Context, engine *ladder.Engine, batch []subtitle.Cue, full map[string]string) literalResult {
	var joined strings.Builder
	for _, c := range batch {
		joined.WriteString(c.Text)
		joined.WriteString(" ")
	}
	relevant := relevantGlossary(joined.String(), full)
	glossaryText := "{}"
	if data, err := json.Marshal(relevant); err == nil {
		glossaryText = string(data)
	}

	stage := &ladder.Literal{Set: r.Set, Temp: r.Config.TempLiteral}
	items, _ := engine.Run(ctx, stage, batch, glossaryText, "None")

	literal := make(map[int]string, len(items))
	for _, it := range items {
		literal[it.ID] = it.Text
	}
	return literalResult{literal: literal, glossaryText: glossaryText}
}

// relevantGlossary keeps only the terms that actually occur in the batch
// text, case-insensitively, so prompts stay small.
func relevantGlossary(text string, full map[string]string) map[string]string {
	lower := strings.ToLower(text)
	relevant := make(map[string]string)
	for src, tgt := range full {
		if strings.Contains(lower, strings.ToLower(src)) {
			relevant[src] = tgt
		}
	}
	return relevant
}

// partition splits cues into ordered batches of at most size cues.
func partition(cues []subtitle.Cue, size int) [][]subtitle.Cue {
	if size < 1 {
		size = 1
	}
	var batches [][]subtitle.Cue
	for len(cues) > size {
		batches = append(batches, cues[:size])
		cues = cues[size:]
	}
	if len(cues) > 0 {
		batches = append(batches, cues)
	}
	return batches
}
