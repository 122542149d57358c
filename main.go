package main

import (
	"fmt"
	"os"

	"github.com/maastricht-university/edmo-pose/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "edmo-pose:", err)
		os.Exit(1)
	}
}
