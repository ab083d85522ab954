package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var knowledgeLimit int

// knowledgeCmd groups knowledge base inspection commands.
var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the knowledge base",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge entries",
	RunE:  listKnowledge,
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search knowledge entries",
	Long: `Searches the knowledge base. With an embedding engine configured the
query is matched semantically against indexed entries, falling back to
lexical keyword search otherwise.`,
	Args: cobra.MinimumNArgs(1),
	RunE: searchKnowledge,
}

var knowledgeShowCmd = &cobra.Command{
	Use:   "show [entry-id]",
	Short: "Show one knowledge entry in full",
	Args:  cobra.ExactArgs(1),
	RunE:  showKnowledge,
}

func init() {
	knowledgeListCmd.Flags().IntVar(&knowledgeLimit, "limit", 20, "Maximum entries to list")
	knowledgeSearchCmd.Flags().IntVar(&knowledgeLimit, "limit", 20, "Maximum entries to return")
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeShowCmd)
}

func listKnowledge(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListKnowledgeEntries(knowledgeLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Knowledge base is empty.")
		return nil
	}

	fmt.Printf("%-14s %-18s %-6s %-6s %s\n", "ID", "TYPE", "USES", "RATE", "TITLE")
	for _, e := range entries {
		fmt.Printf("%-14s %-18s %-6d %-6.2f %s\n",
			e.ID, e.EntryType, e.UsageCount, e.SuccessRate, e.Title)
	}
	return nil
}

func searchKnowledge(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	manager, err := newManager(st, false)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	entries, err := manager.SearchEntries(ctx, strings.Join(args, " "), knowledgeLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No entries match %q.\n", strings.Join(args, " "))
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  [%s]  %s\n", e.ID, e.EntryType, e.Title)
		if e.Description != "" {
			fmt.Printf("    %s\n", e.Description)
		}
	}
	return nil
}

func showKnowledge(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	e, err := st.GetKnowledgeEntry(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Entry %s (version %d)\n", e.ID, e.Version)
	fmt.Printf("  Title:       %s\n", e.Title)
	fmt.Printf("  Type:        %s\n", e.EntryType)
	if e.Description != "" {
		fmt.Printf("  Description: %s\n", e.Description)
	}
	fmt.Printf("  Usage:       %d uses, %.2f success rate\n", e.UsageCount, e.SuccessRate)
	if len(e.UserRatings) > 0 {
		fmt.Printf("  Quality:     %.2f over %d ratings\n", e.QualityScore, len(e.UserRatings))
	}
	if len(e.Keywords) > 0 {
		fmt.Printf("  Keywords:    %s\n", strings.Join(e.Keywords, ", "))
	}
	if len(e.Tags) > 0 {
		fmt.Printf("  Tags:        %s\n", strings.Join(e.Tags, ", "))
	}
	if len(e.RelatedSolutionIDs) > 0 {
		fmt.Printf("  Solutions:   %s\n", strings.Join(e.RelatedSolutionIDs, ", "))
	}

	for _, section := range []string{"patterns", "operation_sequences", "notes", "optimizations"} {
		items := contentStrings(e.Content[section])
		if len(items) == 0 {
			continue
		}
		fmt.Printf("\n%s:\n", strings.ReplaceAll(section, "_", " "))
		for _, item := range items {
			fmt.Printf("  - %s\n", item)
		}
	}
	return nil
}

// contentStrings reads a content section that holds either []string
// (freshly derived) or []interface{} (decoded from the store).
func contentStrings(v interface{}) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []interface{}:
		var out []string
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
