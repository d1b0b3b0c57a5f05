package main

import "taskfarm/engine/cmd"

func main() {
	cmd.Execute()
}
