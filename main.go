package main

import "github.com/cmakekit/cmakekit/cmd"

func main() {
	cmd.Execute()
}
