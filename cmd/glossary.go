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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/subforge/subtran/internal/glossary"
)

var (
	glossaryDir         string
	glossaryCuratedDB   string
	glossaryDiscoveryDB string
)

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage the persistent terminology glossary",
	Long: `Inspect and maintain the persistent glossary stores.

Curated terms come from JSON files under the glossary directory and always
win over LLM-discovered terms. Discovered terms accumulate during
translation runs when discovery is enabled.`,
}

// openGlossary opens both stores with the command-level path flags.
func openGlossary() (*glossary.Store, error) {
	store, err := glossary.Open(glossary.Options{
		Dir:             glossaryDir,
		CuratedDBPath:   glossaryCuratedDB,
		DiscoveryDBPath: glossaryDiscoveryDB,
		EnableDiscovery: true,
		Logger:          newLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening glossary store: %w", err)
	}
	return store, nil
}

var glossaryIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest changed glossary files into the curated store",
	Long: `Scan the glossary directory recursively for *.json files and ingest
every file whose content changed since the last ingest. Unchanged files are
skipped by content digest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openGlossary()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.IncrementalUpdate()
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		fmt.Printf("Ingested %d changed file(s) from %s\n", n, glossaryDir)
		return nil
	},
}

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List curated and discovered terms",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openGlossary()
		if err != nil {
			return err
		}
		defer store.Close()

		curated, err := store.ListCurated()
		if err != nil {
			return fmt.Errorf("listing curated terms: %w", err)
		}
		discovered, err := store.ListDiscovered()
		if err != nil {
			return fmt.Errorf("listing discovered terms: %w", err)
		}

		if len(curated) == 0 && len(discovered) == 0 {
			fmt.Println("Glossary is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STORE\tCATEGORY\tSOURCE TERM\tTARGET TERM")
		for _, t := range curated {
			fmt.Fprintf(w, "curated\t%s\t%s\t%s\n", t.Category, t.Source, t.Target)
		}
		for _, t := range discovered {
			fmt.Fprintf(w, "discovered\t%s\t%s\t%s\n", t.Category, t.Source, t.Target)
		}
		return w.Flush()
	},
}

var glossaryAddCategory string

var glossaryAddCmd = &cobra.Command{
	Use:   "add <source-term> <target-term>",
	Short: "Add or update a curated term",
	Long: `Add a curated glossary term directly to the database, bypassing the
JSON files.

Example:
  subtran glossary add "Knight Rider" "霹雳游侠" --category Show`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openGlossary()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.AddCurated(args[0], args[1], glossaryAddCategory); err != nil {
			return fmt.Errorf("adding term: %w", err)
		}
		fmt.Printf("Added: %q → %q (%s)\n", args[0], args[1], glossaryAddCategory)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(glossaryCmd)

	glossaryCmd.PersistentFlags().StringVar(&glossaryDir, "glossary-dir", "glossaries", "Directory of curated glossary JSON files")
	glossaryCmd.PersistentFlags().StringVar(&glossaryCuratedDB, "glossary-db", "glossary_cache.db", "Curated glossary database")
	glossaryCmd.PersistentFlags().StringVar(&glossaryDiscoveryDB, "discovery-db", "llm_discovery.db", "LLM-discovered glossary database")

	glossaryAddCmd.Flags().StringVar(&glossaryAddCategory, "category", "General", "Term category")

	glossaryCmd.AddCommand(glossaryIngestCmd)
	glossaryCmd.AddCommand(glossaryListCmd)
	glossaryCmd.AddCommand(glossaryAddCmd)
}
