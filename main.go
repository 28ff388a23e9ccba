package main

import "github.com/andresmejia3/fingercap/cmd"

func main() {
	cmd.Execute()
}
