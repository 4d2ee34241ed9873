package main

import (
	"github.com/kazuhira-dev/apiary/cmd/apiary/commands"
)

func main() {
	commands.Execute()
}
