package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"git.sr.ht/~turminal/go-fnmatch"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/pushgate/pushgate/models"
)

var (
	listRepoGlob   string
	listAuthorised bool
	rejectReason   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pushes held for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/push"
		if listAuthorised {
			path += "?blocked=true&authorised=true"
		}
		var pushes []*models.Action
		if err := call("GET", path, nil, &pushes); err != nil {
			return err
		}
		if listRepoGlob != "" {
			filtered := pushes[:0]
			for _, push := range pushes {
				if fnmatch.Match(listRepoGlob, push.RepoName(), 0) {
					filtered = append(filtered, push)
				}
			}
			pushes = filtered
		}
		if jsonOutput {
			return outputJSON(pushes)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREPO\tBRANCH\tPUSHER\tSTATE\tMESSAGE")
		for _, push := range pushes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				push.ID, push.RepoName(), push.Branch, push.User,
				state(push), runewidth.Truncate(oneline(push.RefusalMessage()), 60, "…"))
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <push-id>",
	Short: "Show one push in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var push models.Action
		if err := call("GET", "/push/"+args[0], nil, &push); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(&push)
		}

		fmt.Printf("Push:     %s\n", push.ID)
		fmt.Printf("Repo:     %s\n", push.RepoName())
		fmt.Printf("Branch:   %s\n", push.Branch)
		fmt.Printf("Pusher:   %s\n", push.User)
		fmt.Printf("State:    %s\n", state(&push))
		if push.Attestation != nil {
			fmt.Printf("Reviewer: %s at %s\n",
				push.Attestation.Reviewer.Username,
				push.Attestation.Timestamp.Format("2006-01-02 15:04:05 MST"))
		}
		if push.Rejection != nil {
			fmt.Printf("Rejected: %s (%s)\n",
				push.Rejection.Reason, push.Rejection.Reviewer.Username)
		}
		for _, commit := range push.CommitData {
			fmt.Printf("  %s %s <%s> %s\n",
				time.Unix(commit.CommitTS, 0).Format("2006-01-02 15:04"),
				commit.Author, commit.AuthorEmail,
				runewidth.Truncate(oneline(commit.Message), 72, "…"))
		}
		return nil
	},
}

var authoriseCmd = &cobra.Command{
	Use:   "authorise <push-id>",
	Short: "Authorise a held push",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var push models.Action
		err := call("POST", "/push/"+args[0]+"/authorise", nil, &push)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(&push)
		}
		fmt.Printf("Push %s authorised. The pusher can now push again.\n", push.ID)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <push-id>",
	Short: "Reject a held push",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]interface{}{
			"rejection": map[string]string{"reason": rejectReason},
		}
		var push models.Action
		err := call("POST", "/push/"+args[0]+"/reject", body, &push)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(&push)
		}
		fmt.Printf("Push %s rejected.\n", push.ID)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <push-id>",
	Short: "Cancel your own held push",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var push models.Action
		err := call("POST", "/push/"+args[0]+"/cancel", nil, &push)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(&push)
		}
		fmt.Printf("Push %s canceled.\n", push.ID)
		return nil
	},
}

func state(push *models.Action) string {
	switch {
	case push.Error:
		return "error"
	case push.Canceled:
		return "canceled"
	case push.Rejected:
		return "rejected"
	case push.Authorised:
		return "authorised"
	case push.Blocked:
		return "pending"
	}
	return "allowed"
}

func oneline(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	listCmd.Flags().StringVar(&listRepoGlob, "repo", "",
		"only list pushes whose repo name matches this glob")
	listCmd.Flags().BoolVar(&listAuthorised, "authorised", false,
		"list authorised pushes instead of pending ones")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "",
		"reason shown to the pusher on their next attempt")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(authoriseCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(cancelCmd)
}
