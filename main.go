package main

import "github.com/modsync/modsync/cmd"

func main() {
	cmd.Execute()
}
