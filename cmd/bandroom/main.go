package main

import (
	"fmt"
	"os"

	"bandroom/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "bandroom:", err)
		os.Exit(1)
	}
}
