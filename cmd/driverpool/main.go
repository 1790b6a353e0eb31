// Package main provides the driverpool CLI: installs browsers and drives
// pooled browser sessions from a set of workers.
package main

import (
	"fmt"
	"os"

	"github.com/entrhq/driverpool/cmd/driverpool/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
