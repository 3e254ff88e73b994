// enc sella un secreto con la clave maestra del gateway, listo para pegar en
// client_secret_enc o refresh_token_enc.
//
//	enc "mi-client-secret"
//	echo -n "mi-client-secret" | enc
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/mcpgate/internal/security/secretbox"
)

func main() {
	_ = godotenv.Load(".env")

	var plain string
	if len(os.Args) > 1 {
		plain = os.Args[1]
	} else {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("stdin: %v", err)
		}
		plain = strings.TrimRight(string(b), "\n")
	}
	if plain == "" {
		log.Fatal("nada que cifrar: pasá el secreto como argumento o por stdin")
	}

	sealed, err := secretbox.Encrypt(plain)
	if err != nil {
		log.Fatalf("encrypt: %v", err)
	}
	fmt.Println(sealed)
}
