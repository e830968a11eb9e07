// Command fmp4remux flattens fragmented MP4 inputs into a single
// progressive MP4, and inspects box structure for debugging.
package main

import (
	"fmt"
	"os"

	"github.com/tetsuo/fmp4remux/cmd/fmp4remux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
