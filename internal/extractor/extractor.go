// Package extractor builds the task glossary for one translation run.
//
// It combines two sources: strided sampling passes over the transcript sent
// through the LLM for new-term discovery, and substring matches against the
// persistent glossary store. Store matches always win the merge.
package extractor

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/subforge/subtran/internal/chunker"
	"github.com/subforge/subtran/internal/glossary"
	"github.com/subforge/subtran/internal/llm"
	"github.com/subforge/subtran/internal/prompts"
	"github.com/subforge/subtran/internal/salvage"
	"github.com/subforge/subtran/internal/subtitle"
)

// maxPartRunes caps one term-extraction prompt's sample size.
const maxPartRunes = 4000

// minPasses is the sampling floor; short files still get several passes so
// every cue is visited.
const minPasses = 5

// Extractor discovers the task glossary.
type Extractor struct {
	Client llm.Caller
	Store  *glossary.Store
	Set    *prompts.Set
	Temp   float64
	Log    zerolog.Logger
}

// passCount returns max(minPasses, ceil(n/100)).
func passCount(n int) int {
	p := (n + 99) / 100
	if p < minPasses {
		p = minPasses
	}
	return p
}

// GlobalTerms runs the sampled discovery passes and merges the results with
// the store's historical matches (historical wins). Newly discovered terms
// are persisted to the discovery store. Individual LLM calls that fail or
// return unusable JSON are dropped; the pass count keeps the glossary useful.
func (e *Extractor) GlobalTerms(ctx context.Context, cues []subtitle.Cue) map[string]string {
	passes := passCount(len(cues))
	e.Log.Info().Int("cues", len(cues)).Int("passes", passes).Msg("extracting global terms")

	var (
		mu         sync.Mutex
		discovered = make(map[string]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < passes; p++ {
		var sampled strings.Builder
		for i := p; i < len(cues); i += passes {
			sampled.WriteString(cues[i].Text)
			sampled.WriteString("\n")
		}

		for _, part := range chunker.Split(sampled.String(), maxPartRunes) {
			part := part
			g.Go(func() error {
				prompt, err := e.Set.TermExtract(part)
				if err != nil {
					return err
				}
				raw, err := e.Client.Call(gctx, []llm.Message{{Role: "system", Content: prompt}}, e.Temp)
				if err != nil {
					// Exhausted retries on one sample; the other passes cover it.
					e.Log.Warn().Err(err).Msg("term extraction call failed, dropping sample")
					return nil
				}
				terms := salvage.StringMap(raw)
				if terms == nil {
					return nil
				}
				mu.Lock()
				for src, tgt := range terms {
					discovered[src] = tgt
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		e.Log.Error().Err(err).Msg("term extraction aborted")
	}

	var full strings.Builder
	for _, c := range cues {
		full.WriteString(c.Text)
		full.WriteString("\n")
	}
	historical := e.Store.ExtractTerms(full.String())

	e.Log.Info().
		Int("discovered", len(discovered)).
		Int("historical", len(historical)).
		Msg("glossary sources merged")

	merged := make(map[string]string, len(discovered)+len(historical))
	for src, tgt := range discovered {
		merged[src] = tgt
	}
	for src, tgt := range historical {
		merged[src] = tgt
	}

	if len(discovered) > 0 {
		if err := e.Store.SaveTerms(discovered, glossary.DiscoveryCategory); err != nil {
			e.Log.Error().Err(err).Msg("failed to persist discovered terms")
		}
	}

	return merged
}
