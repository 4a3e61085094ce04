// Package main is the entry point for the grillmaster application.
package main

import (
	"os"

	"github.com/grillmaster/grillmaster/cmd/grillmaster/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
