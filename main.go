package main

import "github.com/statq/statq/cmd"

func main() {
	cmd.Execute()
}
