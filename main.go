package main

import "github.com/cobridge/cobridge/cmd"

func main() {
	cmd.Execute()
}
