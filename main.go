package main

import "github.com/jhcourtney/lectern/cmd"

func main() {
	cmd.Execute()
}
