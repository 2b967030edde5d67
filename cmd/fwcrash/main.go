package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/fwcrash/cmd/fwcrash/app"
	"github.com/zjy-dev/fwcrash/internal/logger"
)

func main() {
	err := app.NewFwcrashCommand().Execute()
	logger.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
