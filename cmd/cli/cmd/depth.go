package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var depthCmd = &cobra.Command{
	Use:   "depth",
	Short: "Show queue depth and the latest scaling decision",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClientFromConfig(cmd, false)
		if client == nil {
			return
		}

		depth, err := client.QueueDepth()
		if err != nil {
			printAPIError(cmd, "Queue depth", err)
			return
		}

		cmd.Printf("%sQueue%s (%s)\n", colorBold, colorReset, depth.ObservedAt.Format(time.RFC3339))
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sPending:%s       %d\n", colorDim, colorReset, depth.Pending)
		cmd.Printf("%sRunning:%s       %d\n", colorDim, colorReset, depth.Running)
		cmd.Printf("%sFailed recent:%s %d\n", colorDim, colorReset, depth.FailedRecent)

		if depth.Desired != nil {
			cmd.Printf("%sDesired:%s       %d workers (%s)\n", colorDim, colorReset, *depth.Desired, depth.Action)
		} else {
			cmd.Printf("%sDesired:%s       -\n", colorDim, colorReset)
		}
	},
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show the owner's credit balance",
	Run: func(cmd *cobra.Command, args []string) {
		client := newClientFromConfig(cmd, true)
		if client == nil {
			return
		}

		balance, err := client.Credits()
		if err != nil {
			printAPIError(cmd, "Credits", err)
			return
		}

		cmd.Printf("%s: %d credits\n", balance.OwnerID, balance.Credits)
	},
}

func init() {
	rootCmd.AddCommand(depthCmd)
	rootCmd.AddCommand(creditsCmd)
}
