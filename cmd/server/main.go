package main

import "github.com/dreamdiary/coin-market/internal/cli"

func main() {
	cli.Execute()
}
