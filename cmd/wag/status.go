package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "swarm",
	Short:   "Show swarm status for this project",
	Long: `Summarize the project: open work, unread mail, live reservations,
pending deferreds and whether the embedder is reachable.

Examples:
  wag status
  wag status --json`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		stats, err := hiveSvc.Statistics(rootCtx, projectKey)
		if err != nil {
			FatalErrorRespectJSON("reading cell statistics: %v", err)
		}
		session := ensureMailSession()
		inbox, err := mailSvc.Inbox(rootCtx, session, types.InboxFilter{})
		if err != nil {
			FatalErrorRespectJSON("reading inbox: %v", err)
		}
		reservations, err := reserveSvc.List(rootCtx, projectKey, true)
		if err != nil {
			FatalErrorRespectJSON("listing reservations: %v", err)
		}
		deferreds, err := deferSvc.List(rootCtx)
		if err != nil {
			FatalErrorRespectJSON("listing deferreds: %v", err)
		}
		pending := 0
		for _, d := range deferreds {
			if d.State == types.DeferredPending {
				pending++
			}
		}

		embedCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()
		embedderReady := infClient.EmbedderReady(embedCtx)

		var warnings []string
		if stats.Blocked > 0 {
			warnings = append(warnings, fmt.Sprintf("%d cells blocked on dependencies (wag cell blocked)", stats.Blocked))
		}
		conflicts, err := reserveSvc.Conflicts(rootCtx, projectKey)
		if err != nil {
			FatalErrorRespectJSON("checking reservation conflicts: %v", err)
		}
		if len(conflicts) > 0 {
			warnings = append(warnings, fmt.Sprintf("%d overlapping reservations (wag conflicts)", len(conflicts)))
		}

		open := stats.Open + stats.InProgress + stats.Blocked
		if jsonOutput {
			outputJSON(map[string]interface{}{
				"actor":               actor,
				"project_key":         projectKey,
				"db_path":             store.Path(),
				"embedder_ready":      embedderReady,
				"embed_model":         config.GetString("inference.embed_model"),
				"open_cells":          open,
				"ready_cells":         stats.Ready,
				"unread_mail":         inbox.Unread,
				"active_reservations": len(reservations),
				"pending_deferreds":   pending,
				"warnings":            warnings,
			})
			return
		}
		fmt.Println(ui.RenderStatusBox(ui.StatusViewModel{
			Actor:              actor,
			ProjectKey:         projectKey,
			DBPath:             store.Path(),
			EmbedderReady:      embedderReady,
			EmbedModel:         config.GetString("inference.embed_model"),
			OpenCells:          open,
			UnreadMail:         inbox.Unread,
			ActiveReservations: len(reservations),
			PendingDeferreds:   pending,
			Warnings:           warnings,
		}))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
