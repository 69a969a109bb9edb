package main

import "github.com/vietddude/ocrsweep/internal/cli"

func main() {
	cli.Execute()
}
