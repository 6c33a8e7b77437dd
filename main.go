package main

import (
	"fmt"
	"os"

	"github.com/Zhima-Mochi/minibilling/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "billing:", err)
		os.Exit(1)
	}
}
