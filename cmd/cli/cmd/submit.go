package cmd

import (
	"encoding/json"
	"os"
	"time"

	"jobrelay/pkg/api"

	"github.com/spf13/cobra"
)

// waitPollInterval is how often --wait re-reads the job.
var waitPollInterval = 1 * time.Second

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job to the queue",
	Long: `Submit a new job. The job is queued immediately and picked up by the next free worker.

Example:
  jobctl submit --type chat_completion --payload '{"message":"hello"}'
  jobctl submit --type research --payload-file query.json --conversation conv-42 --wait`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		jobType, _ := flags.GetString("type")
		payload, _ := flags.GetString("payload")
		payloadFile, _ := flags.GetString("payload-file")
		conversation, _ := flags.GetString("conversation")
		wait, _ := flags.GetBool("wait")

		client := newClientFromConfig(cmd, true)
		if client == nil {
			return
		}

		if jobType == "" {
			cmd.Println("Error: --type is required")
			return
		}

		if payloadFile != "" {
			b, err := os.ReadFile(payloadFile)
			if err != nil {
				cmd.Printf("Error: failed to read payload file: %v\n", err)
				return
			}
			payload = string(b)
		}
		if payload != "" && !json.Valid([]byte(payload)) {
			cmd.Println("Error: payload must be valid JSON")
			return
		}

		req := api.CreateJobRequest{Type: jobType}
		if payload != "" {
			req.Payload = json.RawMessage(payload)
		}
		if conversation != "" {
			req.ConversationID = &conversation
		}

		result, err := client.SubmitJob(req)
		if err != nil {
			printAPIError(cmd, "Submit", err)
			return
		}

		cmd.Printf("✓ Job submitted!\nJob ID: %s\nStatus: %s\n", result.JobID, result.Status)
		if !wait {
			return
		}

		for {
			job, err := client.GetJob(result.JobID)
			if err != nil {
				printAPIError(cmd, "Status", err)
				return
			}
			if job.Status == "completed" || job.Status == "failed" {
				cmd.Println()
				printJob(cmd, *job)
				return
			}
			time.Sleep(waitPollInterval)
		}
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.String("type", "", "Job type: chat_completion, research, remote_agent_task or echo (required)")
	flags.StringP("payload", "p", "", "JSON payload")
	flags.String("payload-file", "", "Read the JSON payload from a file")
	flags.StringP("conversation", "c", "", "Conversation ID; jobs of one conversation share a workspace")
	flags.BoolP("wait", "w", false, "Wait for the job to finish and print the result")

	rootCmd.AddCommand(submitCmd)
}
