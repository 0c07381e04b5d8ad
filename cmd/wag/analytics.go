package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/analytics"
	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var analyticsCmd = &cobra.Command{
	Use:     "analytics",
	GroupID: "data",
	Short:   "Run saved queries against the projection tables",
	Long: `Execute read-only analytics queries over the store.

Builtin queries cover cell, event, mail, reservation and memory shapes.
A project can add its own in .waggle/analytics.toml; file entries shadow
builtins with the same name.

Examples:
  wag analytics list
  wag analytics run cells-by-status
  wag analytics run busiest-agents --format csv`,
}

var analyticsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available saved queries",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		catalog := loadAnalyticsCatalog(cmd)
		if jsonOutput {
			type entry struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			entries := make([]entry, 0, len(catalog.Queries))
			for _, name := range catalog.Names() {
				entries = append(entries, entry{Name: name, Description: catalog.Queries[name].Description})
			}
			outputJSON(entries)
			return
		}
		for _, name := range catalog.Names() {
			fmt.Printf("%-24s %s\n", ui.RenderAccent(name), ui.RenderMuted(catalog.Queries[name].Description))
		}
	},
}

var analyticsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Execute a saved query",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		catalog := loadAnalyticsCatalog(cmd)
		q, err := catalog.Get(args[0])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		res, err := analytics.Run(rootCtx, store, q)
		if err != nil {
			FatalErrorRespectJSON("running %s: %v", q.Name, err)
		}

		format, _ := cmd.Flags().GetString("format")
		if jsonOutput && !cmd.Flags().Changed("format") {
			format = "json"
		}
		switch format {
		case "table":
			fmt.Println(res.FormatTable())
		case "json":
			out, err := res.FormatJSON()
			if err != nil {
				FatalErrorRespectJSON("encoding result: %v", err)
			}
			fmt.Println(out)
		case "jsonl":
			out, err := res.FormatJSONL()
			if err != nil {
				FatalErrorRespectJSON("encoding result: %v", err)
			}
			fmt.Print(out)
		case "csv":
			out, err := res.FormatCSV()
			if err != nil {
				FatalErrorRespectJSON("encoding result: %v", err)
			}
			fmt.Print(out)
		default:
			FatalErrorRespectJSON("unknown format %q (want table, json, jsonl or csv)", format)
		}
	},
}

// loadAnalyticsCatalog merges the builtin catalog with the project's
// analytics.toml. An explicit --catalog that cannot be read is fatal; the
// default location being absent just means builtins only.
func loadAnalyticsCatalog(cmd *cobra.Command) *analytics.Catalog {
	builtin := analytics.Builtin()
	path, _ := cmd.Flags().GetString("catalog")
	explicit := path != ""
	if !explicit {
		dir := config.WaggleDir()
		if dir == "" {
			return builtin
		}
		path = filepath.Join(dir, "analytics.toml")
	}
	file, err := analytics.LoadCatalog(path)
	if err != nil {
		if !explicit && errors.Is(err, types.ErrNotFound) {
			return builtin
		}
		FatalErrorRespectJSON("%v", err)
	}
	return builtin.Merge(file)
}

func init() {
	analyticsListCmd.Flags().String("catalog", "", "Path to a saved-query TOML file")
	analyticsRunCmd.Flags().String("catalog", "", "Path to a saved-query TOML file")
	analyticsRunCmd.Flags().String("format", "table", "Output format: table, json, jsonl or csv")

	analyticsCmd.AddCommand(analyticsListCmd)
	analyticsCmd.AddCommand(analyticsRunCmd)
	rootCmd.AddCommand(analyticsCmd)
}
