package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"jobrelay/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve detailed information for a job, including its current state (pending, running, completed, failed), live progress and result.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClientFromConfig(cmd, true)
		if client == nil {
			return
		}

		job, err := client.GetJob(args[0])
		if err != nil {
			printAPIError(cmd, "Status", err)
			return
		}

		printJob(cmd, *job)
	},
}

func printJob(cmd *cobra.Command, job api.JobResponse) {
	// Header with status icon
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, job.Type)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))

	if job.ConversationID != nil {
		cmd.Printf("%sConversation:%s %s\n", colorDim, colorReset, *job.ConversationID)
	}
	if job.WorkerID != nil {
		cmd.Printf("%sWorker:%s      %s\n", colorDim, colorReset, *job.WorkerID)
	}

	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&job.CreatedAt))
	cmd.Printf("%sClaimed:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(job.ClaimedAt))

	// Duration once the job is finished
	if job.ClaimedAt != nil && (job.Status == "completed" || job.Status == "failed") {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(&job.UpdatedAt),
			colorCyan, formatDuration(job.UpdatedAt.Sub(*job.ClaimedAt)), colorReset)
	}

	if len(job.Progress) > 0 && string(job.Progress) != "{}" {
		cmd.Printf("%sProgress:%s\n%s\n", colorDim, colorReset, indentJSON(job.Progress))
	}
	if len(job.Result) > 0 {
		color := colorGreen
		if job.Status == "failed" {
			color = colorRed
		}
		cmd.Printf("%sResult:%s\n%s%s%s\n", colorDim, colorReset, color, indentJSON(job.Result), colorReset)
	}
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return "  " + string(raw)
	}
	return "  " + buf.String()
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "completed":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "running":
		return icon + " " + colorYellow + status + colorReset
	case "pending":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
