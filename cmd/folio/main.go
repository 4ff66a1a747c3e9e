package main

import (
	"os"

	"github.com/wonny/folio/cmd/folio/commands"
)

// main is the entry point for the folio CLI
// ⭐ single CLI entry point: go run ./cmd/folio [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
