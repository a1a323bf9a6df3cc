// Package main provides a command-line utility to inspect CMP containers:
// detected header fields, populated segments, and a decoded symbol preview.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/scigolib/cmp"
	"github.com/scigolib/cmp/internal/utils"
)

func main() {
	previewCount := flag.Int("preview", 16, "number of symbols to decode from the first populated segment")
	listAll := flag.Bool("list", false, "list every populated segment, not just the first")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Println("Usage: cmpdump [flags] <file.cmp>")
		fmt.Println("Flags:")
		flag.PrintDefaults()
		return
	}

	if err := run(args[0], *previewCount, *listAll); err != nil {
		log.Fatalf("%s", describe(err))
	}
}

func run(path string, previewCount int, listAll bool) error {
	r, err := cmp.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			log.Printf("close: %v", closeErr)
		}
	}()

	min1, max1, min2, max2, min3, max3 := r.Dimensions()
	otPos, otBase, hdrPos, recPos0, recPos1 := r.HeaderOffsets()

	fmt.Printf("byte order:       %v\n", r.ByteOrder())
	fmt.Printf("dimensions:       [%d,%d] x [%d,%d] x [%d,%d]\n", min1, max1, min2, max2, min3, max3)
	fmt.Printf("offset table:     pos=%d base=%d\n", otPos, otBase)
	fmt.Printf("data header:      pos=%d\n", hdrPos)
	fmt.Printf("first records:    rec_pos_0=%d rec_pos_1=%d\n", recPos0, recPos1)

	segments := r.ListNonEmptySegments()
	fmt.Printf("populated segments: %d\n", len(segments))
	if listAll {
		for _, c := range segments {
			fmt.Printf("  (%d,%d,%d)\n", c.I1, c.I2, c.I3)
		}
	}

	if len(segments) == 0 {
		return nil
	}

	first := segments[0]
	rec, off, err := r.ReadSegment(first)
	if err != nil {
		return err
	}
	fmt.Printf("segment (%d,%d,%d): table base=%d n=%d payload_start=%d required_bits=%d\n",
		first.I1, first.I2, first.I3, rec.Base, rec.N, rec.PayloadStartByte, rec.RequiredBits)

	payload, err := r.AssemblePayload(rec, off)
	if err != nil {
		return err
	}
	if payload.Truncated {
		fmt.Println("warning: payload assembly ran out of address space before reaching required_bits")
	}

	it, err := r.DecodeSymbols(rec, payload)
	if err != nil {
		return err
	}

	fmt.Printf("decoded symbols (up to %d): ", previewCount)
	for i := 0; i < previewCount; i++ {
		sym, ok, decErr := it.Next()
		if decErr != nil {
			return decErr
		}
		if !ok {
			break
		}
		fmt.Printf("%d ", sym)
	}
	fmt.Println()

	return nil
}

// describe renders a typed container error as a one-line message; other
// errors (such as I/O errors) fall back to their default string.
func describe(err error) string {
	var ce *utils.Error
	if errors.As(err, &ce) {
		return fmt.Sprintf("%s: %s", ce.Kind, ce.Context)
	}
	return err.Error()
}
