package main

import (
	"context"
	"os"

	"sitewatch-go/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
