package main

import "github.com/ayo6706/wager-lobby/internal/cli"

func main() {
	cli.Execute()
}
