package main

import "memberdash/cmd/memberdash/cmd"

func main() {
	cmd.Execute()
}
