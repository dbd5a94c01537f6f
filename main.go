package main

import "github.com/clusterlift/clusterlift/cmd"

func main() {
	cmd.Execute()
}
