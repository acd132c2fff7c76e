// Command concierge runs the personal-assistant bot: messaging channels,
// the pending-operation confirmation cache, and the scheduled digests.
package main

import (
	"fmt"
	"os"

	"github.com/conciergehq/concierge/cmd/concierge/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
