// The main package for the geospaas-harvester executable.
package main

import (
	"github.com/JakeFAU/geospaas-harvester/cmd"
)

func main() {
	cmd.Execute()
}
