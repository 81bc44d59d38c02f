// Command genvapid generates a VAPID key pair for Web Push and prints it in
// a form ready to paste into the service environment.
//
// Usage:
//
//	go run ./cmd/genvapid >> .env
//	go run ./cmd/genvapid -format json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type keyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func main() {
	format := flag.String("format", "env", "output format: env or json")
	flag.Parse()

	if err := run(os.Stdout, *format); err != nil {
		log.Fatal(err)
	}
}

func run(w io.Writer, format string) error {
	if format != "env" && format != "json" {
		return fmt.Errorf("unknown format %q (want env or json)", format)
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate VAPID keys: %w", err)
	}
	keys := keyPair{PublicKey: publicKey, PrivateKey: privateKey}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}
	_, err = fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", keys.PublicKey, keys.PrivateKey)
	return err
}
