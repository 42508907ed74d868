package main

import "fx-deviation-monitor/internal/cli"

func main() {
	cli.Execute()
}
