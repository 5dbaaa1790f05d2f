// The main package for the actions-digest executable.
package main

import (
	"github.com/JakeFAU/actions-digest/cmd"
)

func main() {
	cmd.Execute()
}
