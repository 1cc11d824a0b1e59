package main

import "github.com/encodeous/tasknet/cmd"

func main() {
	cmd.Execute()
}
