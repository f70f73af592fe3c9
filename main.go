package main

import (
	"github.com/kestrel4d/adpost/cmd"
)

func main() {
	cmd.Execute()
}
