package main

import (
	"log"

	"concert-tickets/cmd"
	_ "concert-tickets/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
