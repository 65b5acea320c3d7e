package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const cliChatOwner = "cli"

var (
	chatThreadID string
	chatFresh    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the training coach",
}

// chatAskCmd continues the latest conversation unless --thread or --new is given
var chatAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the coach a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID := chatThreadID
		if threadID == "" {
			thread, err := application.ChatThreadFor(cmd.Context(), cliChatOwner, chatFresh)
			if err != nil {
				return err
			}
			threadID = thread.ID
		}
		ex, err := application.Ask(cmd.Context(), threadID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "thread %s (%s)\n", ex.Thread.ID, ex.Thread.Title)
		fmt.Fprintln(cmd.OutOrStdout(), ex.Reply.Text)
		return nil
	},
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		threads, err := application.ChatThreads(cmd.Context(), cliChatOwner)
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no conversations yet")
			return nil
		}
		for _, t := range threads {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", t.ID, t.UpdatedAt, t.Title)
		}
		return nil
	},
}

var chatShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := application.ChatMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, msgs)
	},
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.DeleteChatThread(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	chatAskCmd.Flags().StringVar(&chatThreadID, "thread", "", "Thread to continue")
	chatAskCmd.Flags().BoolVar(&chatFresh, "new", false, "Start a new conversation")
	chatAskCmd.MarkFlagsMutuallyExclusive("thread", "new")
	chatCmd.AddCommand(chatAskCmd, chatListCmd, chatShowCmd, chatDeleteCmd)
}
