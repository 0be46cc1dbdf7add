// Command genkey generates an X25519 key pair for message encryption. The
// private key is written to a file readable only by the owner; the public
// key and its fingerprint go to stdout for registration with the identity
// provider.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clinivo/messaging/internal/crypto"
)

func main() {
	out := flag.String("out", "message_key", "path for the private key file")
	flag.Parse()

	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key pair: %v\n", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "create key dir: %v\n", err)
			os.Exit(1)
		}
	}
	encoded := base64.StdEncoding.EncodeToString(priv) + "\n"
	if err := os.WriteFile(*out, []byte(encoded), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "write private key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("private key: %s\n", *out)
	fmt.Printf("public key:  %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Printf("fingerprint: %s\n", crypto.Fingerprint(pub))
}
