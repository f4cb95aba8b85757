package main

import "github.com/KaramelBytes/biogram-cli/cmd"

func main() {
	cmd.Execute()
}
