package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sokinpui/patchdispatch/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		var reported *cli.ReportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
