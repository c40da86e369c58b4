package main

import "github.com/romakot321/higgsfieldai-api/cli"

func main() {
	cli.Execute()
}
