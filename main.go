package main

import "github.com/timvw/park-patrol/cmd"

func main() {
	cmd.Execute()
}
