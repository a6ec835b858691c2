package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	Long: `List the owner's most recent jobs, newest first.

Example:
  jobctl list
  jobctl list --status pending,running --limit 50`,
	Run: func(cmd *cobra.Command, args []string) {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client := newClientFromConfig(cmd, true)
		if client == nil {
			return
		}

		jobs, err := client.ListJobs(statuses, limit)
		if err != nil {
			printAPIError(cmd, "List", err)
			return
		}

		if len(jobs) == 0 {
			cmd.Println("No jobs found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\n", job.ID, job.Type, job.Status, relativeTime(job.CreatedAt))
		}
		w.Flush()
	},
}

func init() {
	listCmd.Flags().StringSlice("status", nil, "Filter by status (pending, running, completed, failed)")
	listCmd.Flags().Int("limit", 20, "Maximum number of jobs to return")

	rootCmd.AddCommand(listCmd)
}
