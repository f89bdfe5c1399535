package main

import (
	"github.com/anonmeet/anonmeet/cmd"
	"github.com/anonmeet/anonmeet/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
