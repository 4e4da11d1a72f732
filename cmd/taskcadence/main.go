package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"taskcadence/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
