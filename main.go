// The main package for the offlineworker executable.
package main

import (
	"github.com/JakeFAU/offline-catalog-worker/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
