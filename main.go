package main

import "github.com/godlp/godlp/cmd"

func main() {
	cmd.Execute()
}
