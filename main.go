// The main package for the citenet executable.
package main

import (
	"github.com/JakeFAU/citenet/cmd"
)

func main() {
	cmd.Execute()
}
