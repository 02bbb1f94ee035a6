package main

import "github.com/bryanchriswhite/tfliteserver/cmd/tfliteserver/commands"

func main() {
	commands.Execute()
}
