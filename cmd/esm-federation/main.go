package main

import "esm-federation/internal/cli"

func main() {
	cli.Execute()
}
