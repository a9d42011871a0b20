// Command diadash monitors a filament diameter gauge and records spools to
// CSV, serving its display to a browser.
package main

import (
	"log"
	"os"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
