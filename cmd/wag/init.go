package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "swarm",
	Short:   "Register this agent and prepare the project",
	Long: `Register this agent with the swarm and prepare the project workspace.

Writes a commented .waggle/config.yaml scaffold if the project has none,
opens (and if needed creates) the shared store, and registers the agent
so other swarm members can address it by name. Without --agent a
generated adjective-noun name is assigned.

Examples:
  wag init                       Register under a generated name
  wag init --agent red-panda     Register under a chosen name`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		agentName, _ := cmd.Flags().GetString("agent")

		waggleDir := config.WaggleDir()
		if waggleDir == "" {
			waggleDir = filepath.Join(projectPath, ".waggle")
		}
		configPath, created, err := config.WriteScaffold(waggleDir)
		if err != nil {
			FatalErrorRespectJSON("writing config scaffold: %v", err)
		}

		res, err := mailSvc.Init(rootCtx, cliSession, projectPath, agentName)
		if err != nil {
			FatalErrorRespectJSON("registering agent: %v", err)
		}

		dbPath, err := config.DBPath()
		if err != nil {
			FatalErrorRespectJSON("resolving store path: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"agent":               res.Agent,
				"project_key":         res.ProjectKey,
				"db_path":             dbPath,
				"config_path":         configPath,
				"config_created":      created,
				"relocated_from":      relocatedFrom,
				"already_initialized": res.AlreadyInitialized,
			})
			return
		}

		quickstart := []string{
			fmt.Sprintf("wag cell create \"Your first task\" --assignee %s", res.Agent),
			"wag inbox",
			"wag status",
		}
		if agentName == "" && os.Getenv("WAGGLE_ACTOR") == "" {
			quickstart = append([]string{fmt.Sprintf("export WAGGLE_ACTOR=%s", res.Agent)}, quickstart...)
		}
		fmt.Println(ui.RenderInitReport(ui.InitResult{
			DBPath:             dbPath,
			ProjectKey:         res.ProjectKey,
			Actor:              res.Agent,
			ConfigPath:         configPath,
			ConfigCreated:      created,
			LegacyBackup:       relocatedFrom,
			QuickstartCommands: quickstart,
		}, ui.GetWidth()))
	},
}

func init() {
	initCmd.Flags().String("agent", "", "Agent name to register (default: generated)")
	rootCmd.AddCommand(initCmd)
}
