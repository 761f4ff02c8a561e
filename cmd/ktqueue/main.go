package main

import (
	"log"

	"github.com/ktqueue/ktqueue/internal/platform"
)

func main() {
	if err := platform.RunServer("ktqueue"); err != nil {
		log.Fatalf("ktqueue failed: %v", err)
	}
}
