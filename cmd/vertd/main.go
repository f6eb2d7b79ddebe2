// Package main is the entry point for the vertd application.
package main

import (
	"os"

	"github.com/jmylchreest/vertd/cmd/vertd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
