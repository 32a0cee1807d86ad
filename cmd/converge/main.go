// Command converge reconciles out-of-order topic and membership events.
package main

import (
	"os"

	"github.com/roach88/converge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
