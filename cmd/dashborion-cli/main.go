// Command dashborion-cli is the command-line client for the dashborion
// authentication service.
package main

import (
	"fmt"
	"os"

	"github.com/dashborion/dashborion/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
