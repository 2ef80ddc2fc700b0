package main

import (
	"os"

	"github.com/mlhmz/dockermc-dashboard/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
