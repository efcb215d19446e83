// Command cfc-ptrace launches a child executable under ptrace and
// transparently redirects a fixed subset of its filesystem syscalls to a
// remote chunked file store.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		// cobra has already printed the error; an invalid invocation
		// (unknown flag, missing required arg) exits 2,
		// distinct from a traced child's own propagated exit code, which
		// cmdRun reports via os.Exit before ever returning here.
		os.Exit(2)
	}
}
