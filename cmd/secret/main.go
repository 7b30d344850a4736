// Command secret prints the join secret for a client id, derived from the
// server secret the same way the server checks it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"fax-hunt/internal/api"
	"fax-hunt/internal/config"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	serverCfg := config.ServerFromEnv()
	secret := flag.String("secret", serverCfg.Secret, "server secret (defaults to SECRET)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-secret S] <clientId>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	for _, clientID := range flag.Args() {
		fmt.Printf("%s\t%s\n", clientID, api.ClientSecret(*secret, clientID))
	}
}
