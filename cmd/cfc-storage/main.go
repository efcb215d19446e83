// Command cfc-storage hosts the chunked file store behind
// the length-prefixed framed protocol pkg/wire defines, as the separate
// storage-service process the tracer talks to over a socket.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}
