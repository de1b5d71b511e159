// The main package for the zipcrawler executable.
package main

import (
	"github.com/JakeFAU/zipcrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
