// main.go
package main

import (
	"log"

	"deskbook/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
