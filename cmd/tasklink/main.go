package main

import (
	"fmt"
	"os"

	"tasklink/cmd/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tasklink:", err)
		os.Exit(1)
	}
}
