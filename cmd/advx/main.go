package main

import "github.com/advancex/advx/internal/cli"

func main() {
	cli.Execute()
}
