package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"

	"meshchat/internal/cryptobox"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("meshchat-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "", "write the keypair into this directory instead of printing")
	channel := fs.Bool("channel", false, "generate a shared channel key instead of a keypair")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *channel {
		var key [cryptobox.KeySize]byte
		if _, err := rand.Read(key[:]); err != nil {
			fmt.Fprintf(stderr, "keygen: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, base64.StdEncoding.EncodeToString(key[:]))
		return 0
	}

	kp, err := cryptobox.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	if *dir != "" {
		if err := cryptobox.SaveKeyPair(*dir, kp); err != nil {
			fmt.Fprintf(stderr, "keygen: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote keypair to %s\n", *dir)
	}
	fmt.Fprintf(stdout, "public key: %s\n", kp.PublicHex())
	if *dir == "" {
		fmt.Fprintf(stdout, "secret key: %x\n", kp.Secret[:])
	}
	return 0
}
