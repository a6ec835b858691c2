package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("JOBRELAY")
	viper.AutomaticEnv()
}

// execute runs the root command against a fresh output buffer.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return stdout.String()
}

func configure(url string) {
	resetViper()
	viper.Set("url", url)
	viper.Set("token", "svc-secret")
	viper.Set("owner", "owner-1")
}
