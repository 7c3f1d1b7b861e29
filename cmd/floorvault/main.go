package main

import "FloorVault/internal/cli"

func main() {
	cli.Execute()
}
