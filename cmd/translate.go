/*
Copyright © 2025 The subtran authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/subforge/subtran/internal/config"
	"github.com/subforge/subtran/internal/glossary"
	"github.com/subforge/subtran/internal/llm"
	"github.com/subforge/subtran/internal/pipeline"
	"github.com/subforge/subtran/internal/prompts"
)

var (
	inputFile     string
	outputFile    string
	progressFile  string
	glossaryCache string

	noBilingual bool
	toEnglish   bool
	quiet       bool
)

// configFlags maps translate flags onto configuration keys; viper resolves
// precedence (changed flag > env > config file > flag default).
var configFlags = map[string]string{
	"api-key":        "api_key",
	"api-url":        "api_url",
	"model-name":     "model_name",
	"max-concurrent": "max_concurrent_requests",
	"rpm-limit":      "rpm_limit",
	"batch-size":     "batch_size",
	"max-retries":    "max_retries",
	"retry-delay":    "retry_delay",
	"glossary-dir":   "glossary_dir",
	"glossary-db":    "glossary_db_path",
	"discovery-db":   "llm_discovery_db_path",
	"temp-terms":     "temp_terms",
	"temp-literal":   "temp_literal",
	"temp-polish":    "temp_polish",
}

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate an SRT file in two LLM passes",
	Long: `Translate an SRT subtitle file through an OpenAI-compatible endpoint.

The run is resumable: progress is checkpointed after every batch, and
re-running the same command continues where the last run stopped. Output is
bilingual by default (original cue followed by its translation); use
--no-bilingual for translation-only output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}
		if progressFile == "" {
			progressFile = outputFile + ".progress.json"
		}

		log := newLogger()

		v, err := config.New(cfgFile)
		if err != nil {
			return err
		}
		for flagName, key := range configFlags {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
				return fmt.Errorf("binding --%s: %w", flagName, err)
			}
		}
		if toEnglish {
			v.Set("target_lang", "en")
		}
		if noBilingual {
			v.Set("bilingual", false)
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		set, err := prompts.Load(cfg.TargetLang)
		if err != nil {
			return err
		}

		store, err := glossary.Open(glossary.Options{
			Dir:             cfg.GlossaryDir,
			CuratedDBPath:   cfg.GlossaryDBPath,
			DiscoveryDBPath: cfg.LLMDiscoveryDBPath,
			EnableDiscovery: cfg.EnableLLMDiscovery,
			Reverse:         cfg.TargetLang == "en",
			Logger:          log,
		})
		if err != nil {
			return fmt.Errorf("opening glossary store: %w", err)
		}
		defer store.Close()
		if err := store.Initialize(); err != nil {
			return fmt.Errorf("initializing glossary store: %w", err)
		}

		client := llm.New(llm.Options{
			APIURL:        cfg.APIURL,
			APIKey:        cfg.APIKey,
			Model:         cfg.ModelName,
			MaxConcurrent: cfg.MaxConcurrentRequests,
			RPMLimit:      cfg.RPMLimit,
			MaxRetries:    cfg.MaxRetries,
			RetryDelay:    cfg.RetryDelay,
			Logger:        log,
		})

		runner := &pipeline.Runner{
			Config:        cfg,
			Client:        client,
			Store:         store,
			Set:           set,
			Log:           log,
			InputPath:     inputFile,
			OutputPath:    outputFile,
			ProgressPath:  progressFile,
			GlossaryCache: glossaryCache,
			Quiet:         quiet,
		}
		return runner.Run(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input SRT file (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output SRT file (required)")
	translateCmd.Flags().StringVar(&progressFile, "progress-file", "", "Checkpoint file (default <output>.progress.json)")
	translateCmd.Flags().StringVar(&glossaryCache, "glossary-cache-file", "current_task_glossary.json", "Task glossary cache file")

	translateCmd.Flags().String("api-key", "", "API key for the LLM endpoint")
	translateCmd.Flags().String("api-url", "http://localhost:19183/v1/chat/completions", "Chat-completions endpoint URL")
	translateCmd.Flags().String("model-name", "openai/gpt-oss-20b", "Model name")

	translateCmd.Flags().Int("max-concurrent", 4, "Maximum concurrent LLM requests")
	translateCmd.Flags().Int("rpm-limit", 60, "Requests-per-minute ceiling")
	translateCmd.Flags().Int("batch-size", 8, "Cues per translation batch")
	translateCmd.Flags().Int("max-retries", 3, "Retries per LLM call")
	translateCmd.Flags().Duration("retry-delay", 2*time.Second, "Back-off between retries")

	translateCmd.Flags().String("glossary-dir", "glossaries", "Directory of curated glossary JSON files")
	translateCmd.Flags().String("glossary-db", "glossary_cache.db", "Curated glossary database")
	translateCmd.Flags().String("discovery-db", "llm_discovery.db", "LLM-discovered glossary database")

	translateCmd.Flags().Float64("temp-terms", 0.1, "Temperature for term extraction")
	translateCmd.Flags().Float64("temp-literal", 0.3, "Temperature for the literal pass")
	translateCmd.Flags().Float64("temp-polish", 0.5, "Temperature for the polish pass")

	translateCmd.Flags().BoolVar(&noBilingual, "no-bilingual", false, "Write translation-only output")
	translateCmd.Flags().BoolVar(&toEnglish, "to-english", false, "Translate to English instead of Chinese")
	translateCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the progress bar")

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
}
