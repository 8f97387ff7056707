// Package main provides the entry point for the filerecall CLI.
package main

import (
	"os"

	"github.com/filerecall/filerecall/cmd/filerecall/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
