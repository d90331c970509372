package main

import "github.com/andresmejia3/obscura/cmd"

func main() {
	cmd.Execute()
}
