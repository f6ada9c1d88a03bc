package main

import (
	"log"
	"os"
)

// version is the client version reported to the queue. Release builds
// override it via ldflags.
var version = "1.2.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic occurred: %v", r)
			os.Exit(1)
		}
	}()

	if err := newRootCommand(os.Environ()).Execute(); err != nil {
		os.Exit(1)
	}
}
