// Package main is the screen-share entry point (relay, host and viewer).
package main

import (
	"log"

	"screen-share/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
