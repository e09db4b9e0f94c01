package main

import (
	"os"

	"github.com/gamepulse/harvester/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
