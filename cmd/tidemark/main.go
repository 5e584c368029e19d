package main

import (
	"fmt"
	"os"

	"github.com/tidemark-oss/tidemark/internal/cli"
	"github.com/tidemark-oss/tidemark/internal/errors"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if s := errors.Suggestion(err); s != "" {
			fmt.Fprintln(os.Stderr, "  →", s)
		}
		os.Exit(1)
	}
}
