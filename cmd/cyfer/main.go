// Command cyfer is a password vault client. Every command runs through one
// session controller talking to the secrets engine, in-process or over MCP.
package main

import (
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	// Wipe locked buffers on Ctrl-C as well as on normal exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		memguard.SafeExit(1)
	}
}
