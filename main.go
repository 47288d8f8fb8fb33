package main

import "github.com/cadencebot/cadence/cmd"

func main() {
	cmd.Execute()
}
