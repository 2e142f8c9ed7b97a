package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pushgate/pushgate/models"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered repositories",
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		var repos []*models.Repo
		if err := call("GET", "/repo", nil, &repos); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(repos)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tURL\tCAN PUSH\tCAN AUTHORISE")
		for _, repo := range repos {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", repo.Name, repo.URL,
				strings.Join(repo.Users.CanPush, ","),
				strings.Join(repo.Users.CanAuthorise, ","))
		}
		return tw.Flush()
	},
}

var repoAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := models.Repo{Name: args[0], URL: args[1]}
		if err := call("POST", "/repo", &repo, &repo); err != nil {
			return err
		}
		fmt.Printf("Registered %s\n", repo.Name)
		return nil
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Unregister a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("DELETE", "/repo/"+args[0], nil, nil)
	},
}

var repoGrantCmd = &cobra.Command{
	Use:   "grant <name> <push|authorise> <username>",
	Short: "Grant a repository role to a user",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("PUT",
			fmt.Sprintf("/repo/%s/user/%s/%s", args[0], args[1], args[2]), nil, nil)
	},
}

var repoRevokeCmd = &cobra.Command{
	Use:   "revoke <name> <push|authorise> <username>",
	Short: "Revoke a repository role from a user",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("DELETE",
			fmt.Sprintf("/repo/%s/user/%s/%s", args[0], args[1], args[2]), nil, nil)
	},
}

func init() {
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoGrantCmd)
	repoCmd.AddCommand(repoRevokeCmd)
	rootCmd.AddCommand(repoCmd)
}
