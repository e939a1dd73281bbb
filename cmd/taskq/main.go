package main

import (
	"os"

	"github.com/UniQw/taskq/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
