package main

import "aviatorhub/cmd/aviator-client/command"

func main() {
	command.Execute()
}
