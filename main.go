package main

import "metamakers.org/gate-agent/cli_commands"

func main() {
	cli_commands.Execute()
}
