package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var follow bool

// followPollInterval is the delay between polls in --follow mode.
var followPollInterval = 1 * time.Second

var eventsCmd = &cobra.Command{
	Use:   "events [job_id]",
	Short: "Show the progress log of a job",
	Long: `Print the progress entries a job has recorded. With --follow the command keeps
polling until the job reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		client := newClientFromConfig(cmd, true)
		if client == nil {
			return
		}

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			if _, ok := <-sigChan; ok {
				os.Exit(0)
			}
		}()

		var lastID int64
		for {
			events, err := client.ListEvents(jobID, lastID)
			if err != nil {
				printAPIError(cmd, "Fetching events", err)
				if !follow {
					return
				}
				time.Sleep(2 * followPollInterval)
				continue
			}

			for _, e := range events {
				cmd.Printf("%s%s%s [%s] %s\n", colorDim, e.CreatedAt.Format(time.TimeOnly), colorReset, e.Kind, e.Content)
				if e.ID > lastID {
					lastID = e.ID
				}
			}

			// A non-empty page may have more behind it
			if len(events) > 0 {
				continue
			}
			if !follow {
				return
			}

			job, err := client.GetJob(jobID)
			if err == nil && (job.Status == "completed" || job.Status == "failed") {
				cmd.Printf("Job %s\n", colorizeStatus(job.Status))
				return
			}
			time.Sleep(followPollInterval)
		}
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow progress until the job finishes")
}
