package main

import "compliance-gate/internal/cli"

func main() {
	cli.Execute()
}
