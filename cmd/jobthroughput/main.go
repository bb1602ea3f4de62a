package main

import (
	"os"

	"github.com/armadaproject/jobthroughput/cmd/jobthroughput/cmd"
	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(benchmarkerrors.ExitCodeFromError(err))
	}
}
