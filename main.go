package main

import "github.com/KaramelBytes/tabforge/cmd"

func main() {
	cmd.Execute()
}
