// Command chatppt runs the presentation pipeline locally.
//
// Usage:
//
//	chatppt submit --text "quarterly sales review" [--file memo.wav] [--session ID]
//	chatppt augment --session ID
//	chatppt render --session ID
//	chatppt history --session ID
//
// History is kept in BadgerDB under --badger-dir, files under --storage-dir,
// and prompts are read from --param-dir (or SSM when unset).
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
