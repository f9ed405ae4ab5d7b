// The main package for the linkvault executable.
package main

import (
	"github.com/linkvault/linkvault/cmd"
)

func main() {
	cmd.Execute()
}
