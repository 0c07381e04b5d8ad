package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var deferredCmd = &cobra.Command{
	Use:     "deferred",
	GroupID: "coord",
	Short:   "Hand off results between agents with durable promises",
	Long: `Hand off results between agents with durable single-shot promises.

A deferred is created by whoever needs a value, its URL is passed to the
producer (usually by mail), and the producer resolves or rejects it
exactly once. Awaiting blocks until settlement or timeout; settled and
expired deferreds survive restarts.

Examples:
  wag deferred create --ttl 10m
  wag deferred resolve waggle://deferred/1a2b3c "build passed"
  wag deferred await waggle://deferred/1a2b3c --timeout 5m`,
}

var deferredCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a deferred and print its URL",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ttlStr, _ := cmd.Flags().GetString("ttl")

		ttl := time.Duration(config.GetInt("deferred.default_ttl_seconds")) * time.Second
		if ttlStr != "" {
			var err error
			ttl, err = parseDurationFlag(ttlStr)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
		}

		d, err := deferSvc.Create(rootCtx, ttl)
		if err != nil {
			FatalErrorRespectJSON("creating deferred: %v", err)
		}

		if jsonOutput {
			outputJSON(d)
			return
		}
		fmt.Println(d.URL)
	},
}

var deferredResolveCmd = &cobra.Command{
	Use:   "resolve <url> <value>",
	Short: "Settle a deferred with a value",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		if err := deferSvc.Resolve(rootCtx, args[0], args[1]); err != nil {
			FatalErrorRespectJSON("resolving: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"resolved": args[0]})
			return
		}
		fmt.Printf("%s Resolved %s\n", ui.RenderPassIcon(), args[0])
	},
}

var deferredRejectCmd = &cobra.Command{
	Use:   "reject <url> <reason>",
	Short: "Settle a deferred with an error",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		if err := deferSvc.Reject(rootCtx, args[0], args[1]); err != nil {
			FatalErrorRespectJSON("rejecting: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"rejected": args[0]})
			return
		}
		fmt.Printf("%s Rejected %s\n", ui.RenderPassIcon(), args[0])
	},
}

var deferredAwaitCmd = &cobra.Command{
	Use:   "await <url>",
	Short: "Block until a deferred settles",
	Long: `Block until the deferred settles or the timeout passes. Exit status
follows the settlement: zero for resolved, non-zero for rejected or
timed out.

Examples:
  wag deferred await waggle://deferred/1a2b3c --timeout 5m`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		timeoutStr, _ := cmd.Flags().GetString("timeout")

		timeout := 60 * time.Second
		if timeoutStr != "" {
			var err error
			timeout, err = parseDurationFlag(timeoutStr)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
		}

		d, err := deferSvc.Await(rootCtx, args[0], timeout)
		if err != nil {
			FatalErrorRespectJSON("awaiting: %v", err)
		}

		if jsonOutput {
			outputJSON(d)
			return
		}
		if d.Error != "" {
			FatalError("deferred rejected: %s", d.Error)
		}
		fmt.Println(d.Value)
	},
}

var deferredListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deferreds",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		deferreds, err := deferSvc.List(rootCtx)
		if err != nil {
			FatalErrorRespectJSON("listing deferreds: %v", err)
		}

		if jsonOutput {
			outputJSON(deferreds)
			return
		}
		if len(deferreds) == 0 {
			fmt.Println("No deferreds.")
			return
		}
		for _, d := range deferreds {
			state := ui.RenderMuted(string(d.State))
			switch d.State {
			case types.DeferredResolved:
				state = ui.RenderPass(string(d.State))
			case types.DeferredRejected:
				state = ui.RenderFail(string(d.State))
			}
			fmt.Printf("%s %s\n", state, d.URL)
		}
	},
}

var deferredCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reject deferreds that expired unsettled",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		n, err := deferSvc.CleanupExpired(rootCtx)
		if err != nil {
			FatalErrorRespectJSON("cleaning up: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"expired": n})
			return
		}
		fmt.Printf("%s Expired %d deferred(s)\n", ui.RenderPassIcon(), n)
	},
}

func init() {
	deferredCreateCmd.Flags().String("ttl", "", "Time before an unsettled deferred expires (default from config)")
	deferredAwaitCmd.Flags().String("timeout", "60s", "How long to wait for settlement")

	deferredCmd.AddCommand(deferredCreateCmd)
	deferredCmd.AddCommand(deferredResolveCmd)
	deferredCmd.AddCommand(deferredRejectCmd)
	deferredCmd.AddCommand(deferredAwaitCmd)
	deferredCmd.AddCommand(deferredListCmd)
	deferredCmd.AddCommand(deferredCleanupCmd)
	rootCmd.AddCommand(deferredCmd)
}
