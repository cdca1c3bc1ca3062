package main

import "github.com/rzbill/cruise/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
