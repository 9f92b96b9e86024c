// Command fieldgate runs the realtime gateway for operators and field
// workers, plus the small producer tools used by jobs and ops.
package main

import (
	"fmt"
	"os"

	"fieldgate/logger"
)

func main() {
	defer logger.Sync()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fieldgate:", err)
		logger.Sync()
		os.Exit(1)
	}
}
