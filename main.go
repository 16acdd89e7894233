package main

import "github.com/vrsandeep/repokeep/internal/cli"

func main() {
	cli.Execute()
}
