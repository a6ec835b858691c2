package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "Jobctl is a command line tool for interacting with the jobrelay controller",
	Long: `jobctl is the command-line interface for the jobrelay asynchronous job platform.

jobrelay accepts long-running work (chat completions, research, remote agent
tasks) over HTTP, queues it durably and lets a pool of workers claim and run it:

  - Controller: HTTP API for submitting jobs, reading status and progress
  - Workers: poll the queue, run the job handler and persist workspace snapshots

Common workflows:

  Submit a chat job and wait for the answer:
    jobctl submit --type chat_completion --payload '{"message":"hello"}' --wait

  Check a job:
    jobctl status <job-id>

  List recent failures:
    jobctl list --status failed

  Follow progress of a remote agent task:
    jobctl events <job-id> --follow

  Inspect the queue and the autoscaler's last decision:
    jobctl depth

Configuration:
  Set the API endpoint and credentials via flags, environment variables or a config file:
    JOBRELAY_URL      API endpoint (default: http://localhost:6161)
    JOBRELAY_TOKEN    Internal service secret
    JOBRELAY_OWNER    Owner the requests act on behalf of`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".jobctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".jobctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "JOBRELAY_VARNAME"
	viper.SetEnvPrefix("JOBRELAY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClientFromConfig returns a client, or prints what is missing and returns nil.
func newClientFromConfig(cmd *cobra.Command, needOwner bool) *JobClient {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the JOBRELAY_TOKEN environment variable")
		return nil
	}
	owner := viper.GetString("owner")
	if needOwner && owner == "" {
		cmd.Println("Owner not set. Please set it using the --owner flag or the JOBRELAY_OWNER environment variable")
		return nil
	}
	return NewJobClient(viper.GetString("url"), token, owner)
}

// printAPIError reports err with the action that failed.
func printAPIError(cmd *cobra.Command, action string, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("%s failed (%d): %s\n", action, apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("%s failed: %v\n", action, err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.jobctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "jobrelay controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Internal service secret")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().StringP("owner", "o", "", "Owner ID the requests act for")
	viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
}
