package main

import (
	"github.com/forgekit/databuild/cmd"
)

func main() {
	cmd.Execute()
}
