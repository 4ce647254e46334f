package main

import "github.com/emrgen/storysync/cmd"

func main() {
	cmd.Execute()
}
