// File: cmd/billingctl/main.go
package main

import (
	"fmt"
	"os"
)

var osExit = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}
