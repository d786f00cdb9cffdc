package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/tidwall/gjson"
)

// Progress is the resumable checkpoint rewritten after every batch. Indices
// are persisted as strings; older checkpoint files carrying them as numbers
// are still accepted.
type Progress struct {
	LastIndex        int      `json:"last_index"`
	ProcessedIndices []string `json:"processed_indices"`
	OutputBlockIndex int      `json:"output_block_index"`
	LastContext      string   `json:"last_context"`
}

// LoadProgress reads a checkpoint file. A missing file yields a fresh
// checkpoint; an unreadable or corrupt one is an error so the caller can
// decide whether to start over.
func LoadProgress(path string) (*Progress, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Progress{OutputBlockIndex: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("progress file %s is not valid JSON", path)
	}

	root := gjson.ParseBytes(data)
	p := &Progress{
		LastIndex:        int(root.Get("last_index").Int()),
		OutputBlockIndex: int(root.Get("output_block_index").Int()),
		LastContext:      root.Get("last_context").String(),
	}
	for _, el := range root.Get("processed_indices").Array() {
		p.ProcessedIndices = append(p.ProcessedIndices, el.String())
	}
	if p.OutputBlockIndex < 1 {
		p.OutputBlockIndex = 1
	}
	return p, nil
}

// Save rewrites the checkpoint through a temporary sibling and an atomic
// rename, so a crash mid-write never leaves a torn file behind.
func (p *Progress) Save(path string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing progress file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing progress file: %w", err)
	}
	return nil
}

// ProcessedSet returns the processed cue ids as a lookup set.
func (p *Progress) ProcessedSet() map[string]bool {
	set := make(map[string]bool, len(p.ProcessedIndices))
	for _, idx := range p.ProcessedIndices {
		set[idx] = true
	}
	return set
}

// MarkProcessed records one completed cue id.
func (p *Progress) MarkProcessed(id int) {
	p.ProcessedIndices = append(p.ProcessedIndices, strconv.Itoa(id))
	p.LastIndex = id
}
