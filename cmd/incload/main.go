// Command incload appends the latest scraped batch file to the analytical
// staging table, skipping rows whose natural key is already present.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/casafeed/incload/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
