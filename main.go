package main

import (
	"os"

	"github.com/fleet-etl/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}