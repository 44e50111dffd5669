// Command arklink is the CLI front end for the arklink static linker core.
// It parses flags (and an optional JSON/YAML job descriptor) into a
// job.Config and hands off to internal/link.Link.
package main

import "os"

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
