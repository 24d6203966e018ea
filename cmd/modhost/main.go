package main

import "github.com/nfrund/modhost/cmd/modhost/cmd"

func main() {
	cmd.Execute()
}
