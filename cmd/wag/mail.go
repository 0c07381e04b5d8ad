package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/mail"
	"github.com/untoldecay/waggle/internal/types"
	"github.com/untoldecay/waggle/internal/ui"
)

var sendCmd = &cobra.Command{
	Use:     "send <agent> [agent...]",
	GroupID: "swarm",
	Short:   "Send swarm mail to one or more agents",
	Long: `Send a message to other agents in this project.

The message lands in each recipient's inbox ordered urgent-first. With
--ack the recipients are expected to acknowledge; unacked messages stay
flagged in their inbox.

Examples:
  wag send red-panda --subject "API review" --body "See cell wag-a1b2c3"
  wag send builder tester --subject "Schema frozen" --importance high
  wag send queen --subject "Release gate" --ack --cell wag-a1b2c3`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		subject, _ := cmd.Flags().GetString("subject")
		body, _ := cmd.Flags().GetString("body")
		cc, _ := cmd.Flags().GetStringSlice("cc")
		threadID, _ := cmd.Flags().GetString("thread")
		importance, _ := cmd.Flags().GetString("importance")
		ackRequired, _ := cmd.Flags().GetBool("ack")
		cellID, _ := cmd.Flags().GetString("cell")

		session := ensureMailSession()
		msg, err := mailSvc.Send(rootCtx, session, mail.SendRequest{
			To:          args,
			CC:          cc,
			Subject:     subject,
			Body:        body,
			ThreadID:    threadID,
			Importance:  importance,
			AckRequired: ackRequired,
			CellID:      cellID,
		})
		if err != nil {
			FatalErrorRespectJSON("sending message: %v", err)
		}

		if jsonOutput {
			outputJSON(msg)
			return
		}
		fmt.Printf("%s Sent #%d to %s\n", ui.RenderPassIcon(), msg.ID, strings.Join(args, ", "))
	},
}

var inboxCmd = &cobra.Command{
	Use:     "inbox",
	GroupID: "swarm",
	Short:   "Show this agent's inbox",
	Long: `Show the inbox for the configured agent, urgent and unread first.

The inbox is bounded; older read messages fall off the listing once the
limit is hit (urgent unacked mail never does). Use --limit to widen it.

Examples:
  wag inbox
  wag inbox --unread
  wag inbox --thread wag-a1b2c3 --limit 50`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		unreadOnly, _ := cmd.Flags().GetBool("unread")
		urgentOnly, _ := cmd.Flags().GetBool("urgent")
		threadID, _ := cmd.Flags().GetString("thread")
		limit, _ := cmd.Flags().GetInt("limit")

		session := ensureMailSession()
		inbox, err := mailSvc.Inbox(rootCtx, session, types.InboxFilter{
			UnreadOnly: unreadOnly,
			UrgentOnly: urgentOnly,
			ThreadID:   threadID,
			Limit:      limit,
		})
		if err != nil {
			FatalErrorRespectJSON("reading inbox: %v", err)
		}

		if jsonOutput {
			outputJSON(inbox)
			return
		}
		fmt.Println(ui.RenderInboxTable(inbox, ui.GetWidth()))
	},
}

var readCmd = &cobra.Command{
	Use:     "read <message-id>",
	GroupID: "swarm",
	Short:   "Read a message and mark it read",
	Args:    cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			FatalErrorRespectJSON("invalid message id %q", args[0])
		}

		session := ensureMailSession()
		msg, err := mailSvc.ReadMessage(rootCtx, session, id)
		if err != nil {
			FatalErrorRespectJSON("reading message %d: %v", id, err)
		}

		if jsonOutput {
			outputJSON(msg)
			return
		}
		fmt.Println(renderMessage(msg))
	},
}

var ackCmd = &cobra.Command{
	Use:     "ack <message-id>",
	GroupID: "swarm",
	Short:   "Acknowledge a message",
	Args:    cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			FatalErrorRespectJSON("invalid message id %q", args[0])
		}

		session := ensureMailSession()
		if err := mailSvc.Ack(rootCtx, session, id); err != nil {
			FatalErrorRespectJSON("acking message %d: %v", id, err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"acked": id})
			return
		}
		fmt.Printf("%s Acked #%d\n", ui.RenderPassIcon(), id)
	},
}

var agentsCmd = &cobra.Command{
	Use:     "agents",
	GroupID: "swarm",
	Short:   "List agents registered in this project",
	Args:    cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		agents, err := mailSvc.ListAgents(rootCtx, projectPath)
		if err != nil {
			FatalErrorRespectJSON("listing agents: %v", err)
		}

		if jsonOutput {
			outputJSON(agents)
			return
		}
		fmt.Println(ui.RenderAgentTable(agents, ui.GetWidth()))
	},
}

// renderMessage formats a full message for the terminal, with the body
// run through the markdown renderer.
func renderMessage(msg *types.Message) string {
	var b strings.Builder
	b.WriteString(ui.RenderBold(msg.Subject) + "\n")
	b.WriteString(ui.RenderMuted(fmt.Sprintf("#%d from %s at %s",
		msg.ID, msg.Sender, msg.CreatedAt.Format("2006-01-02 15:04"))) + "\n")
	if len(msg.To) > 0 {
		b.WriteString(ui.RenderMuted("to: "+strings.Join(msg.To, ", ")) + "\n")
	}
	if len(msg.CC) > 0 {
		b.WriteString(ui.RenderMuted("cc: "+strings.Join(msg.CC, ", ")) + "\n")
	}
	if msg.ThreadID != "" {
		b.WriteString(ui.RenderMuted("thread: "+msg.ThreadID) + "\n")
	}
	if msg.CellID != "" {
		b.WriteString(ui.RenderMuted("cell: "+msg.CellID) + "\n")
	}
	if msg.AckRequired {
		note := "ack required"
		if msg.AckedAt != nil {
			note = "acked " + msg.AckedAt.Format("2006-01-02 15:04")
		}
		b.WriteString(ui.RenderWarn(note) + "\n")
	}
	if msg.Body != "" {
		b.WriteString("\n" + ui.RenderMarkdown(msg.Body))
	}
	return strings.TrimRight(b.String(), "\n")
}

func init() {
	sendCmd.Flags().StringP("subject", "s", "", "Message subject (required)")
	sendCmd.Flags().StringP("body", "b", "", "Message body (markdown)")
	sendCmd.Flags().StringSlice("cc", nil, "Carbon-copy recipients")
	sendCmd.Flags().String("thread", "", "Thread ID to reply into")
	sendCmd.Flags().String("importance", "", "Importance: low, normal, high, urgent")
	sendCmd.Flags().Bool("ack", false, "Require acknowledgement from recipients")
	sendCmd.Flags().String("cell", "", "Cell ID this message concerns")
	sendCmd.MarkFlagRequired("subject")

	inboxCmd.Flags().Bool("unread", false, "Only unread messages")
	inboxCmd.Flags().Bool("urgent", false, "Only urgent messages")
	inboxCmd.Flags().String("thread", "", "Only messages in this thread")
	inboxCmd.Flags().Int("limit", 0, "Max entries (default from config)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(agentsCmd)
}
