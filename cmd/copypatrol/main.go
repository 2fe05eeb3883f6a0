package main

import (
	"os"

	"github.com/copyvio/copypatrol/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
