package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parityline/transfer/internal/crypto/identity"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		generateCmd(os.Args[2:])
	case "show":
		showCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("keygen - identity key management")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  keygen generate [-keys-dir DIR]   create (or reuse) an identity keypair")
	fmt.Println("  keygen show [-keys-dir DIR]        print the public key and fingerprint")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	keysDir := fs.String("keys-dir", "", "Key storage directory (default ~/.parityline)")
	fs.Parse(args)

	privPath, pubPath, err := resolvePaths(*keysDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve key paths: %v\n", err)
		os.Exit(1)
	}

	_, pub, err := identity.LoadOrCreate(privPath, pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create identity keypair: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Identity keypair ready.")
	fmt.Printf("  Public key:  %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Printf("  Fingerprint: %s\n", identity.Fingerprint(pub))
	fmt.Printf("  Stored in:   %s\n", filepath.Dir(privPath))
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	keysDir := fs.String("keys-dir", "", "Key storage directory (default ~/.parityline)")
	fs.Parse(args)

	privPath, pubPath, err := resolvePaths(*keysDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve key paths: %v\n", err)
		os.Exit(1)
	}

	_, pub, err := identity.LoadOrCreate(privPath, pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load identity keypair: %v\n", err)
		fmt.Fprintln(os.Stderr, "run 'keygen generate' first")
		os.Exit(1)
	}

	fmt.Printf("Public key:  %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Printf("Fingerprint: %s\n", identity.Fingerprint(pub))
	fmt.Println("Key type:    Ed25519")
}

func resolvePaths(keysDir string) (privPath, pubPath string, err error) {
	if keysDir == "" {
		return identity.DefaultPaths()
	}
	return filepath.Join(keysDir, "id_ed25519"), filepath.Join(keysDir, "id_ed25519.pub"), nil
}
