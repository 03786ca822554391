// Command modelbench downloads on-device language models, chats with them and
// runs declarative test suites against them.
package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	// Wipe enclave keys on interrupt as well as on normal exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		memguard.Purge()
		os.Exit(1)
	}
}
