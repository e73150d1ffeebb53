package main

import "github.com/hupe1980/vecbench/internal/cli"

func main() {
	cli.Execute()
}
