package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/config"
	"github.com/untoldecay/waggle/internal/lock"
	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var lockCmd = &cobra.Command{
	Use:     "lock",
	GroupID: "coord",
	Short:   "Hold short-lived named locks",
	Long: `Hold short-lived named locks backed by compare-and-swap rows.

Locks guard critical sections measured in seconds, not path ownership;
use reservations for files. Contended acquires retry with exponential
backoff, and expired holders are swept on the way in.

Examples:
  wag lock acquire deploy-gate --ttl 60s
  wag lock status deploy-gate
  wag lock release deploy-gate`,
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <resource>",
	Short: "Acquire a named lock",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ttlStr, _ := cmd.Flags().GetString("ttl")
		retries, _ := cmd.Flags().GetInt("retries")

		opts := lock.AcquireOptions{
			TTL:        time.Duration(config.GetInt("lock.default_ttl_seconds")) * time.Second,
			MaxRetries: config.GetInt("lock.max_retries"),
			BaseDelay:  time.Duration(config.GetInt("lock.base_delay_ms")) * time.Millisecond,
			Holder:     actor,
		}
		if ttlStr != "" {
			ttl, err := parseDurationFlag(ttlStr)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
			opts.TTL = ttl
		}
		if cmd.Flags().Changed("retries") {
			opts.MaxRetries = retries
		}

		handle, err := lockSvc.Acquire(rootCtx, args[0], opts)
		if err != nil {
			FatalErrorRespectJSON("acquiring %s: %v", args[0], err)
		}

		if jsonOutput {
			outputJSON(handle)
			return
		}
		fmt.Printf("%s Holding %s until %s (seq %d)\n", ui.RenderPassIcon(),
			ui.RenderAccent(handle.Resource), handle.ExpiresAt.Format("15:04:05"), handle.Seq)
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <resource>",
	Short: "Release a lock you hold",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		handle, err := lockSvc.Get(rootCtx, args[0])
		if errors.Is(err, types.ErrNotFound) {
			FatalErrorRespectJSON("lock %s is not held", args[0])
		}
		if err != nil {
			FatalErrorRespectJSON("inspecting %s: %v", args[0], err)
		}
		if handle.Holder != actor {
			FatalErrorRespectJSON("lock %s is held by %s, not %s", args[0], handle.Holder, actor)
		}

		if err := lockSvc.Release(rootCtx, handle); err != nil {
			FatalErrorRespectJSON("releasing %s: %v", args[0], err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"released": args[0]})
			return
		}
		fmt.Printf("%s Released %s\n", ui.RenderPassIcon(), ui.RenderAccent(args[0]))
	},
}

var lockStatusCmd = &cobra.Command{
	Use:   "status [resource]",
	Short: "Show live locks",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		var (
			handles []*types.LockHandle
			err     error
		)
		if len(args) == 1 {
			var handle *types.LockHandle
			handle, err = lockSvc.Get(rootCtx, args[0])
			if handle != nil {
				handles = append(handles, handle)
			}
			if errors.Is(err, types.ErrNotFound) {
				err = nil
			}
		} else {
			handles, err = lockSvc.List(rootCtx)
		}
		if err != nil {
			FatalErrorRespectJSON("reading locks: %v", err)
		}

		if jsonOutput {
			outputJSON(handles)
			return
		}
		if len(handles) == 0 {
			fmt.Println("No live locks.")
			return
		}
		for _, h := range handles {
			fmt.Printf("%s %s held by %s, expires %s\n", ui.RenderPassIcon(),
				ui.RenderAccent(h.Resource), ui.RenderBold(h.Holder),
				h.ExpiresAt.Format("15:04:05"))
		}
	},
}

func init() {
	lockAcquireCmd.Flags().String("ttl", "", "Lock lifetime without renewal (default from config)")
	lockAcquireCmd.Flags().Int("retries", 0, "Max contention retries (default from config)")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockStatusCmd)
	rootCmd.AddCommand(lockCmd)
}
