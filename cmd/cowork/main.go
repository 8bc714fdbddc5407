// Package main provides the entry point for the cowork CLI.
package main

import (
	"fmt"
	"os"

	"github.com/jasonwang82/opencowork-sub001/cmd/cowork/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
