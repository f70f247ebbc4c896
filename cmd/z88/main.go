// Command z88 analyses daily stock snapshots with Gann levels, indicators and
// Elliott wave projections.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"z88-quant/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
