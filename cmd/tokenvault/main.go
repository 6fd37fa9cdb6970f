// Command tokenvault runs the token vault HTTP service and its maintenance
// jobs.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
