// Command echocall places voice calls to an assistant from the terminal.
//
// Usage:
//
//	echocall call [--assistant ID] [--mode webrtc|voice-socket] [--muted]
//	echocall assistant show ID
//	echocall credentials set --api-key KEY --api-secret SECRET
//	echocall credentials show
//
// Configuration comes from ECHOCALL_* environment variables and an optional
// .env file in the working directory.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
