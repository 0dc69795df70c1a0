package main

import (
	"context"
	"log"
	"os"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Printf("error running sharedlockctl: %s", err)

		return 1
	}

	return 0
}
