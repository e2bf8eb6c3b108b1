package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"

	"rforest/internal/dataset"
)

func main() {
	var (
		out  = flag.String("out", "dataset/waveform.data", "Output CSV path")
		rows = flag.Int("rows", 5000, "Number of rows to generate")
		seed = flag.Uint64("seed", 1, "Random seed")
	)
	flag.Parse()

	fmt.Printf("Generating waveform data...\n")
	fmt.Printf("  Rows: %d\n", *rows)
	fmt.Printf("  Seed: %d\n", *seed)
	fmt.Printf("  Output: %s\n", *out)

	x, y := dataset.GenerateWaveform(rand.New(rand.NewPCG(*seed, 0)), *rows)

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	file, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer file.Close()

	if err := dataset.WriteCSV(file, x, y); err != nil {
		log.Fatalf("Failed to write data: %v", err)
	}
	fmt.Println("Done.")
}
