package main

import "github.com/gift_custody/cmd"

func main() {
	cmd.Execute()
}
