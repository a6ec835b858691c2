// Package main is the entry point for jobctl, the jobrelay command-line client.
package main

import (
	"os"

	"jobrelay/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
