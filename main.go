// The main package for the leadsd executable.
package main

import (
	"github.com/TheClitCommander/Bay-Area-Leads/cmd"
)

func main() {
	cmd.Execute()
}
