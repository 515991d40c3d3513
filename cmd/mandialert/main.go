package main

import (
	"mandi-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
