package main

import "github.com/function-store/RpiSimpleNDI/cmd/ndirecv/commands"

func main() {
	commands.Execute()
}
