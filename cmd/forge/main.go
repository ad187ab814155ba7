package main

import (
	"context"
	"fmt"
	"os"

	"github.com/forgecore/forge/internal/cli"
)

func main() {
	root := cli.BuildRootCmd()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
