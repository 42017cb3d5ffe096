package main

import (
	"os"

	flowscribecmder "github.com/flowscribe/flowscribe/cmd/flowscribe"
)

func main() {
	cmd := flowscribecmder.NewFlowscribeCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
