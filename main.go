// The main package for the pageweight executable.
package main

import (
	"github.com/JakeFAU/pageweight/cmd"
)

func main() {
	cmd.Execute()
}
