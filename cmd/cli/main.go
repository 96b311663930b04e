package main

import "github.com/oocpc/engine/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
