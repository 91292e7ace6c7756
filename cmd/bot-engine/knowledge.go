// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/bot-engine/internal/brain"
	"github.com/pdiddy/bot-engine/internal/core"
	"github.com/pdiddy/bot-engine/internal/logging"
	"github.com/pdiddy/bot-engine/pkg/types"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the knowledge package and its scoring",
}

// --- inspect subcommand ---

var knowledgeInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize the knowledge package",
	Long: `Inspect loads the knowledge package and prints its entries with their
response kind and intent count, followed by the relevance thresholds.`,
	RunE: runKnowledgeInspect,
}

func runKnowledgeInspect(cmd *cobra.Command, args []string) error {
	cfg := engineConfig(viper.GetViper())
	if cfg.Brain.Source == "" {
		return fmt.Errorf("no knowledge package: set --source")
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	b := brain.New(brain.NewSource(cfg.Brain.Source, cfg.Brain.HTTPConfig), cfg.Brain, logger)
	ix, err := b.Index(cmd.Context())
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return writeIndent(os.Stdout, summarize(ix))
	}
	printSummary(os.Stdout, summarize(ix))
	return nil
}

type entrySummary struct {
	ID      string             `json:"id"`
	Kind    types.ResponseKind `json:"kind"`
	Intents int                `json:"intents"`
	Tags    []string           `json:"tags,omitempty"`
}

type packageSummary struct {
	Brain      string            `json:"brain"`
	Version    string            `json:"version"`
	Entries    []entrySummary    `json:"entries"`
	Kinds      map[string]int    `json:"kinds"`
	Words      int               `json:"words"`
	Percentile types.Percentiles `json:"percentile"`
}

func summarize(ix *brain.Index) packageSummary {
	pkg := ix.Package()
	s := packageSummary{
		Brain:   pkg.BrainName,
		Version: pkg.Version,
		Kinds:   map[string]int{},
	}
	for _, id := range ix.IDs() {
		e, err := ix.Entry(id)
		if err != nil {
			continue
		}
		s.Entries = append(s.Entries, entrySummary{ID: id, Kind: e.Kind, Intents: len(e.Intents), Tags: e.Tags})
		s.Kinds[string(e.Kind)]++
	}
	if st := ix.Statistics(); st != nil {
		s.Words = len(st.Index)
		s.Percentile = st.Percentile
	}
	return s
}

func printSummary(w io.Writer, s packageSummary) {
	fmt.Fprintf(w, "Brain %s (version %s)\n\n", s.Brain, s.Version)
	fmt.Fprintf(w, "%-24s  %-8s  %-7s  %s\n", "ID", "Kind", "Intents", "Tags")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, e := range s.Entries {
		id := e.ID
		if len(id) > 24 {
			id = id[:21] + "..."
		}
		fmt.Fprintf(w, "%-24s  %-8s  %-7d  %s\n", id, e.Kind, e.Intents, strings.Join(e.Tags, ","))
	}

	kinds := make([]string, 0, len(s.Kinds))
	for k := range s.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.Kinds[k]))
	}
	fmt.Fprintf(w, "\n%d entries (%s), %d words\n", len(s.Entries), strings.Join(parts, " "), s.Words)
	fmt.Fprintf(w, "relevance: relmin=%.2f min=%.2f avg=%.2f max=%.2f\n",
		s.Percentile.RelMin, s.Percentile.Min, s.Percentile.Avg, s.Percentile.Max)
}

// --- classify subcommand ---

var knowledgeClassifyCmd = &cobra.Command{
	Use:   "classify [utterance]",
	Short: "Show how an utterance is normalized and scored",
	Long: `Classify runs normalization, entity resolution and scoring on the
utterance without answering it, and prints every intermediate value: the
normalized text, entity variants, bag-of-words scores, the shortlist and
the linear comparisons.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKnowledgeClassify,
}

func runKnowledgeClassify(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tr, err := a.engine.Explain(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return writeIndent(os.Stdout, tr)
	}
	printTrace(os.Stdout, tr)
	return nil
}

func printTrace(w io.Writer, tr *core.Trace) {
	fmt.Fprintf(w, "input:      %s\n", tr.Input)
	fmt.Fprintf(w, "normalized: %s\n", tr.Normalized)
	for _, e := range tr.Entities {
		fmt.Fprintf(w, "entity:     %s=%s\n", e.Type, e.Value)
	}
	fmt.Fprintf(w, "variants:   %s\n", strings.Join(tr.Variants, " | "))
	if len(tr.Tags) > 0 {
		fmt.Fprintf(w, "tags:       %s\n", strings.Join(tr.Tags, ","))
	}

	c := tr.Classification
	fmt.Fprintf(w, "\n%-24s  %s\n", "Bag", "Score")
	for _, id := range c.Shortlist {
		fmt.Fprintf(w, "%-24s  %.2f\n", id, c.Bag[id])
	}
	if len(c.Linear) > 0 {
		fmt.Fprintf(w, "\n%-24s  %-6s  %s\n", "Linear", "Score", "Intent")
		for _, l := range c.Linear {
			fmt.Fprintf(w, "%-24s  %.3f  %s\n", l.ID, l.Score, l.Intent)
		}
	}
	if tr.KnowledgeID == "" {
		fmt.Fprintln(w, "\nno match")
		return
	}
	fmt.Fprintf(w, "\nmatch: %s (%.3f)\n", tr.KnowledgeID, tr.Score)
}

func writeIndent(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	knowledgeCmd.PersistentFlags().Bool("json", false, "output as JSON")

	knowledgeCmd.AddCommand(knowledgeInspectCmd)
	knowledgeCmd.AddCommand(knowledgeClassifyCmd)

	rootCmd.AddCommand(knowledgeCmd)
}
