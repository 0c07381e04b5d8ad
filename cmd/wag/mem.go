package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/memory"
	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var memCmd = &cobra.Command{
	Use:     "mem",
	GroupID: "memory",
	Short:   "Store and search swarm memory",
	Long: `Store and search the swarm's long-term memory.

Memories are embedded for semantic search when an Ollama backend is
reachable and fall back to keyword search otherwise. Scores decay with
age; superseded memories stay retrievable for provenance.

Examples:
  wag mem store "API rate limit is 600 req/min per key" --category infra
  wag mem search "rate limit"
  wag mem supersede mem-1a2b3c "Rate limit raised to 1200 req/min"`,
}

var memStoreCmd = &cobra.Command{
	Use:   "store <information>",
	Short: "Store a memory",
	Long: `Store a memory. By default the smart-op pipeline decides whether the
information is new, updates an existing memory, or is a duplicate;
--no-smart forces a plain add.

Examples:
  wag mem store "Deploys go through wag export first" --category process
  wag mem store "Auth tokens rotate hourly" --tag auth --tag security
  wag mem store "Schema v4 shipped" --valid-from 2026-08-01 --no-smart`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		category, _ := cmd.Flags().GetString("category")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		source, _ := cmd.Flags().GetString("source")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		noSmart, _ := cmd.Flags().GetBool("no-smart")
		noEnrich, _ := cmd.Flags().GetBool("no-enrich")

		if source == "" {
			source = actor
		}
		m := &types.Memory{
			ProjectKey:  projectKey,
			Information: args[0],
			Category:    category,
			Tags:        tags,
			Source:      source,
			Confidence:  confidence,
		}
		if v, _ := cmd.Flags().GetString("valid-from"); v != "" {
			t, err := parseTimeFlag(v)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
			m.ValidFrom = &t
		}
		if v, _ := cmd.Flags().GetString("valid-until"); v != "" {
			t, err := parseTimeFlag(v)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
			m.ValidUntil = &t
		}

		opts := memory.UpsertOptions{
			StoreOptions: memory.StoreOptions{
				AutoTag:         !noEnrich,
				AutoLink:        !noEnrich,
				ExtractEntities: !noEnrich,
			},
			UseSmartOps: !noSmart,
		}
		result, err := memSvc.Upsert(rootCtx, m, opts)
		if err != nil {
			FatalErrorRespectJSON("storing memory: %v", err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		op := "add"
		reason := ""
		if result.Decision != nil {
			op = string(result.Decision.Op)
			reason = result.Decision.Reason
		}
		switch {
		case result.Memory != nil:
			fmt.Printf("%s %s %s\n", ui.RenderPassIcon(), op, ui.RenderID(result.Memory.ID))
		default:
			fmt.Printf("%s %s\n", ui.RenderPassIcon(), op)
		}
		if reason != "" {
			fmt.Println(ui.RenderMuted("  " + reason))
		}
	},
}

var memSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Long: `Search memories semantically, with keyword fallback when no embedding
backend is reachable. Results are scored by similarity times an age
decay; --expand follows links one hop from the top hits.

Examples:
  wag mem search "rate limit"
  wag mem search "deploy process" --category process --min-score 0.5
  wag mem search "auth" --expand --top-k 20`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filter := memSearchFilter(cmd)

		results, err := memSvc.Search(rootCtx, args[0], filter)
		if err != nil {
			FatalErrorRespectJSON("searching: %v", err)
		}

		if jsonOutput {
			outputJSON(results)
			return
		}
		fmt.Println(ui.RenderMemoryHits(args[0], results, ui.GetWidth()))
	},
}

var memValidAtCmd = &cobra.Command{
	Use:   "validate-at <query> <time>",
	Short: "Search memories valid at a past instant",
	Long: `Search memories restricted to those whose validity window covered the
given instant. Use it to answer "what did we believe then".

Examples:
  wag mem validate-at "rate limit" 2026-06-01
  wag mem validate-at "schema version" "3 months ago"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		at, err := parseTimeFlag(args[1])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		filter := memSearchFilter(cmd)

		results, err := memSvc.FindValidAt(rootCtx, args[0], at, filter)
		if err != nil {
			FatalErrorRespectJSON("searching: %v", err)
		}

		if jsonOutput {
			outputJSON(results)
			return
		}
		fmt.Println(ui.RenderMemoryHits(fmt.Sprintf("%s @ %s", args[0], at.Format("2006-01-02")), results, ui.GetWidth()))
	},
}

var memGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a memory in full",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		m, err := memSvc.Get(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("getting memory: %v", err)
		}

		if jsonOutput {
			outputJSON(m)
			return
		}
		fmt.Println(renderMemoryDetail(m))

		links, err := memSvc.Links(rootCtx, m.ID)
		if err == nil && len(links) > 0 {
			targets := make([]string, 0, len(links))
			for _, l := range links {
				other := l.TargetID
				if other == m.ID {
					other = l.SourceID
				}
				targets = append(targets, fmt.Sprintf("%s (%s)", other, l.Type))
			}
			fmt.Println(ui.RenderMemoryLinks("Links", targets, ui.GetWidth()))
		}
	},
}

var memListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		memories, err := memSvc.List(rootCtx, projectKey, limit)
		if err != nil {
			FatalErrorRespectJSON("listing memories: %v", err)
		}

		if jsonOutput {
			outputJSON(memories)
			return
		}
		if len(memories) == 0 {
			fmt.Println("No memories stored.")
			return
		}
		for _, m := range memories {
			info := m.Information
			if len(info) > 80 {
				info = info[:77] + "..."
			}
			fmt.Printf("%s %s\n", ui.RenderID(m.ID), info)
		}
	},
}

var memForgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Delete or archive a memory",
	Long: `Delete a memory outright, or with --archive keep the row but hide it
from search.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		archive, _ := cmd.Flags().GetBool("archive")

		var err error
		if archive {
			err = memSvc.Archive(rootCtx, args[0])
		} else {
			err = memSvc.Delete(rootCtx, args[0])
		}
		if err != nil {
			FatalErrorRespectJSON("forgetting %s: %v", args[0], err)
		}

		verb := "Deleted"
		if archive {
			verb = "Archived"
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"id": args[0], "archived": archive})
			return
		}
		fmt.Printf("%s %s %s\n", ui.RenderPassIcon(), verb, ui.RenderID(args[0]))
	},
}

var memSupersedeCmd = &cobra.Command{
	Use:   "supersede <old-id> <information>",
	Short: "Replace a memory with corrected information",
	Long: `Store new information and mark an existing memory superseded by it.
The old memory drops out of default search but stays for provenance.

Examples:
  wag mem supersede mem-1a2b3c "Rate limit raised to 1200 req/min"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		category, _ := cmd.Flags().GetString("category")

		old, err := memSvc.Get(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("getting %s: %v", args[0], err)
		}
		if category == "" {
			category = old.Category
		}

		replacement, err := memSvc.Store(rootCtx, &types.Memory{
			ProjectKey:  old.ProjectKey,
			Information: args[1],
			Category:    category,
			Tags:        old.Tags,
			Source:      old.Source,
		}, memory.StoreOptions{AutoLink: true})
		if err != nil {
			FatalErrorRespectJSON("storing replacement: %v", err)
		}
		if err := memSvc.Supersede(rootCtx, old.ID, replacement.ID); err != nil {
			FatalErrorRespectJSON("superseding: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"old": old.ID, "new": replacement.ID})
			return
		}
		fmt.Printf("%s %s superseded by %s\n", ui.RenderPassIcon(),
			ui.RenderID(old.ID), ui.RenderID(replacement.ID))
	},
}

var memChainCmd = &cobra.Command{
	Use:   "chain <id>",
	Short: "Show a memory's supersession chain",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		chain, err := memSvc.SupersessionChain(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("walking chain: %v", err)
		}

		if jsonOutput {
			outputJSON(chain)
			return
		}
		for i, m := range chain {
			marker := ui.RenderMuted("superseded")
			if m.SupersededBy == "" {
				marker = ui.RenderPass("current")
			}
			fmt.Printf("%d. %s [%s] %s\n", i+1, ui.RenderID(m.ID), marker, m.Information)
		}
	},
}

// memSearchFilter builds a search filter from the shared search flags.
func memSearchFilter(cmd *cobra.Command) types.MemorySearchFilter {
	category, _ := cmd.Flags().GetString("category")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	topK, _ := cmd.Flags().GetInt("top-k")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	expand, _ := cmd.Flags().GetBool("expand")
	fullText, _ := cmd.Flags().GetBool("keyword")
	superseded, _ := cmd.Flags().GetBool("superseded")

	if topK == 0 {
		topK = config.GetInt("memory.top_k")
	}
	return types.MemorySearchFilter{
		ProjectKey:        projectKey,
		Category:          category,
		Tags:              tags,
		TopK:              topK,
		MinScore:          minScore,
		Expand:            expand,
		FullText:          fullText,
		IncludeSuperseded: superseded,
	}
}

func renderMemoryDetail(m *types.Memory) string {
	var b strings.Builder
	b.WriteString(ui.RenderID(m.ID) + " " + ui.RenderBold(m.Information) + "\n")
	meta := fmt.Sprintf("confidence %.2f", m.Confidence)
	if m.Category != "" {
		meta = m.Category + " · " + meta
	}
	b.WriteString(ui.RenderMuted(meta) + "\n")
	if len(m.Tags) > 0 {
		b.WriteString(ui.RenderMuted("tags: "+strings.Join(m.Tags, ", ")) + "\n")
	}
	b.WriteString(ui.RenderMuted(fmt.Sprintf("stored %s by %s",
		m.CreatedAt.Format("2006-01-02 15:04"), m.Source)) + "\n")
	if m.ValidFrom != nil || m.ValidUntil != nil {
		window := "valid"
		if m.ValidFrom != nil {
			window += " from " + m.ValidFrom.Format("2006-01-02")
		}
		if m.ValidUntil != nil {
			window += " until " + m.ValidUntil.Format("2006-01-02")
		}
		b.WriteString(ui.RenderMuted(window) + "\n")
	}
	if m.SupersededBy != "" {
		b.WriteString(ui.RenderWarn("superseded by "+m.SupersededBy) + "\n")
	}
	if m.Archived {
		b.WriteString(ui.RenderWarn("archived") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func addMemSearchFlags(cmd *cobra.Command) {
	cmd.Flags().String("category", "", "Filter by category")
	cmd.Flags().StringSlice("tag", nil, "Filter by tags")
	cmd.Flags().Int("top-k", 0, "Max results (default from config)")
	cmd.Flags().Float64("min-score", 0, "Drop results scoring below this")
	cmd.Flags().Bool("expand", false, "Follow links one hop from top hits")
	cmd.Flags().Bool("keyword", false, "Force keyword search")
	cmd.Flags().Bool("superseded", false, "Include superseded memories")
}

func init() {
	memStoreCmd.Flags().String("category", "", "Category, e.g. infra, process, decision")
	memStoreCmd.Flags().StringSlice("tag", nil, "Tags to attach")
	memStoreCmd.Flags().String("source", "", "Where this information came from")
	memStoreCmd.Flags().Float64("confidence", 0, "Confidence 0-1 (default 1)")
	memStoreCmd.Flags().String("valid-from", "", "Start of validity window")
	memStoreCmd.Flags().String("valid-until", "", "End of validity window")
	memStoreCmd.Flags().Bool("no-smart", false, "Skip the smart-op pipeline, plain add")
	memStoreCmd.Flags().Bool("no-enrich", false, "Skip auto-tagging, linking and entity extraction")

	addMemSearchFlags(memSearchCmd)
	addMemSearchFlags(memValidAtCmd)

	memListCmd.Flags().Int("limit", 20, "Max memories")
	memForgetCmd.Flags().Bool("archive", false, "Archive instead of delete")
	memSupersedeCmd.Flags().String("category", "", "Category for the replacement")

	memCmd.AddCommand(memStoreCmd)
	memCmd.AddCommand(memSearchCmd)
	memCmd.AddCommand(memValidAtCmd)
	memCmd.AddCommand(memGetCmd)
	memCmd.AddCommand(memListCmd)
	memCmd.AddCommand(memForgetCmd)
	memCmd.AddCommand(memSupersedeCmd)
	memCmd.AddCommand(memChainCmd)
	rootCmd.AddCommand(memCmd)
}
