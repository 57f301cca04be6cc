package main

import (
	"os"

	"github.com/mirelabs/conductor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
