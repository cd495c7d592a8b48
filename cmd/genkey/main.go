// Command genkey generates an Ed25519 keypair for a federation
// organization. The public key goes into the POST /orgs registration;
// the private key signs every authenticated request and never leaves
// the org.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

func main() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Org public key (base64, register via POST /orgs): %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Printf("Org private key (base64, keep secret):            %s\n", base64.StdEncoding.EncodeToString(priv))
}
