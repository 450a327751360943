// Package main provides the docstream entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/docstream/docstream/cmd/docstream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
