package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/reservation"
	"github.com/untoldecay/waggle/internal/ui"
)

var reserveCmd = &cobra.Command{
	Use:     "reserve <path-pattern> [pattern...]",
	GroupID: "paths",
	Short:   "Reserve file paths before editing them",
	Long: `Reserve path patterns so other agents stay out of your files.

Patterns use glob syntax with ** crossing directories. Reservations are
exclusive by default and expire on their own; use --shared for
read-style intent that tolerates overlap. Conflicting exclusive holds by
other agents are reported, not granted around.

Examples:
  wag reserve src/api/** --reason "refactoring handlers"
  wag reserve go.mod go.sum --ttl 30m
  wag reserve docs/** --shared`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		shared, _ := cmd.Flags().GetBool("shared")
		ttlStr, _ := cmd.Flags().GetString("ttl")

		ttl := time.Duration(config.GetInt("reservation.default_ttl_seconds")) * time.Second
		if ttlStr != "" {
			var err error
			ttl, err = parseDurationFlag(ttlStr)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
		}

		result, err := reserveSvc.Reserve(rootCtx, projectKey, actor, reservation.ReserveRequest{
			Paths:  args,
			Reason: reason,
			Shared: shared,
			TTL:    ttl,
		})
		if err != nil {
			FatalErrorRespectJSON("reserving paths: %v", err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		for _, r := range result.Granted {
			mode := "exclusive"
			if !r.Exclusive {
				mode = "shared"
			}
			fmt.Printf("%s Reserved %s (%s, expires %s)\n",
				ui.RenderPassIcon(), ui.RenderAccent(r.PathPattern), mode,
				r.ExpiresAt.Format("15:04:05"))
		}
		if len(result.Conflicts) > 0 {
			fmt.Println(ui.RenderConflictTable(result.Conflicts, ui.GetWidth()))
		}
		if result.Warning != "" {
			fmt.Printf("%s %s\n", ui.RenderWarnIcon(), result.Warning)
		}
	},
}

var releaseCmd = &cobra.Command{
	Use:     "release [path-pattern...]",
	GroupID: "paths",
	Short:   "Release path reservations",
	Long: `Release this agent's path reservations.

With no arguments every live reservation held by the agent is released.
Name patterns or pass --id to release selectively.

Examples:
  wag release
  wag release src/api/**
  wag release --id 42 --id 43`,
	Run: func(cmd *cobra.Command, args []string) {
		ids, _ := cmd.Flags().GetInt64Slice("id")

		released, err := reserveSvc.Release(rootCtx, projectKey, actor, reservation.ReleaseRequest{
			Paths: args,
			IDs:   ids,
		})
		if err != nil {
			FatalErrorRespectJSON("releasing: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"released": released})
			return
		}
		if released == 0 {
			fmt.Println("Nothing to release.")
			return
		}
		fmt.Printf("%s Released %d reservation(s)\n", ui.RenderPassIcon(), released)
	},
}

var reservationsCmd = &cobra.Command{
	Use:     "reservations",
	GroupID: "paths",
	Short:   "List path reservations in this project",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		all, _ := cmd.Flags().GetBool("all")

		list, err := reserveSvc.List(rootCtx, projectKey, !all)
		if err != nil {
			FatalErrorRespectJSON("listing reservations: %v", err)
		}

		if jsonOutput {
			outputJSON(list)
			return
		}
		fmt.Println(ui.RenderReservationTable(list, ui.GetWidth()))
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "paths",
	Short:   "Show overlapping live reservations",
	Long: `Show paths where live reservations held by different agents overlap
and at least one side is exclusive. A clean run prints nothing to fix.`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		conflicts, err := reserveSvc.Conflicts(rootCtx, projectKey)
		if err != nil {
			FatalErrorRespectJSON("checking conflicts: %v", err)
		}

		if jsonOutput {
			outputJSON(conflicts)
			return
		}
		fmt.Println(ui.RenderConflictTable(conflicts, ui.GetWidth()))
	},
}

func init() {
	reserveCmd.Flags().String("reason", "", "Why these paths are reserved")
	reserveCmd.Flags().Bool("shared", false, "Allow overlapping shared holds")
	reserveCmd.Flags().String("ttl", "", "Reservation lifetime (default from config)")

	releaseCmd.Flags().Int64Slice("id", nil, "Reservation IDs to release")

	reservationsCmd.Flags().Bool("all", false, "Include released and expired reservations")

	rootCmd.AddCommand(reserveCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(reservationsCmd)
	rootCmd.AddCommand(conflictsCmd)
}
