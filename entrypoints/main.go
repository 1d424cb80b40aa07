package main

import (
	"github.com/Laisky/plugin-artifact-gateway/cmd"
)

func main() {
	cmd.Execute()
}
