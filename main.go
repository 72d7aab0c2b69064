package main

import (
	"os"

	"github.com/Gfermoto/Repetier-Server/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
