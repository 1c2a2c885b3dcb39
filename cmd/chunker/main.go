package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/parityline/transfer/internal/chunker"
)

func main() {
	// Define flags
	chunkSize := flag.Int("chunk-size", 0, "Chunk size in bytes (0: select per --device)")
	device := flag.String("device", "desktop", "Device class for chunk-size selection (mobile, tablet, desktop)")
	output := flag.String("output", "", "Output manifest to file (default: stdout)")
	pretty := flag.Bool("pretty", true, "Pretty-print JSON output")
	flag.Parse()

	// Check for file argument
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chunker [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	filePath := flag.Arg(0)

	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found: %s\n", filePath)
		os.Exit(2)
	}

	fmt.Fprintf(os.Stderr, "Processing file: %s\n", filePath)

	info, err := os.Stat(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(3)
	}

	deviceClass := chunker.DeviceClass(*device)
	fileName := filepath.Base(filePath)
	manifest := chunker.NewManifest(uuid.New().String(), fileName, info.Size(), filepath.Ext(fileName), deviceClass)
	if *chunkSize > 0 {
		manifest.ProposedChunkSize = *chunkSize
		manifest.ChunkSize = *chunkSize
		manifest.TotalChunks = chunker.TotalChunks(info.Size(), *chunkSize)
	}

	chunks, fileHash, err := chunker.ComputeFileChunks(filePath, manifest.ChunkSize, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing manifest: %v\n", err)
		os.Exit(3)
	}
	manifest.FileHash = hex.EncodeToString(fileHash[:])
	manifest.Chunks = make([]chunker.ChunkDescriptor, len(chunks))
	for i, c := range chunks {
		manifest.Chunks[i] = c.Descriptor()
	}
	if root, err := chunker.ComputeManifestMerkleRoot(manifest.Chunks); err == nil {
		manifest.MerkleRoot = root
	}

	fmt.Fprintf(os.Stderr, "File size: %d bytes\n", manifest.FileSize)
	fmt.Fprintf(os.Stderr, "Chunk size: %d bytes\n", manifest.ChunkSize)
	fmt.Fprintf(os.Stderr, "Chunks: %d\n", manifest.TotalChunks)
	fmt.Fprintf(os.Stderr, "Computing manifest...\n\n")

	// Serialize to JSON
	var jsonData []byte
	if *pretty {
		jsonData, err = json.MarshalIndent(manifest, "", "  ")
	} else {
		jsonData, err = json.Marshal(manifest)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing manifest: %v\n", err)
		os.Exit(4)
	}

	// Output
	if *output != "" {
		err = os.WriteFile(*output, jsonData, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
			os.Exit(5)
		}
		fmt.Fprintf(os.Stderr, "Manifest written to: %s\n", *output)
	} else {
		fmt.Println(string(jsonData))
	}
}