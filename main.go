package main

import "github.com/Kartavya904/brainsync/cli"

func main() {
	cli.Execute()
}
