package main

import "github.com/HatiCode/stepscaler/cmd/stepctl/commands"

func main() {
	commands.Execute()
}
