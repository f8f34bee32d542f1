package main

import (
	"fmt"
	"log"

	"casefile/internal/crypto"
)

func main() {
	key, err := crypto.GenerateSecretKey()
	if err != nil {
		log.Fatalf("Failed to generate flag secret key: %v", err)
	}

	fmt.Println("Generated flag master secret")
	fmt.Println("============================")
	fmt.Println()

	fmt.Println("Add this to your config.env file:")
	fmt.Printf("FLAG_SECRET_KEY=%s\n", crypto.EncodeBase64(key))
	fmt.Println()

	fmt.Println("Rotating this key invalidates every issued flag but")
	fmt.Println("leaves solve records and awarded points untouched.")
}
