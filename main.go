// The main package for the jobextract executable.
package main

import (
	"github.com/JakeFAU/jobinfo-extractor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
