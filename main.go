package main

import "github.com/KaramelBytes/flowlens/cmd"

func main() {
	cmd.Execute()
}
