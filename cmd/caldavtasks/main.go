package main

import (
	"os"

	"caldavtasks/cmd/caldavtasks/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
