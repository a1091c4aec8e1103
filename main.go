package main

import "cotowatch/cmd"

func main() {
	cmd.Execute()
}
