package main

import "github.com/Taichi-iskw/rewind-lang/cmd"

func main() {
	cmd.Execute()
}
