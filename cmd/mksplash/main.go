// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// mksplash converts an image file to the page-addressed SSD1306 frame
// embedded in the splash package.
//
// The input is scaled to 128×64, converted to grayscale and
// thresholded to one bit per pixel; the output is a Go source file.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"

	"golang.org/x/image/draw"
)

const (
	width  = 128
	height = 64
	pages  = height / 8
)

var conf struct {
	input     string
	output    string
	pkg       string
	threshold int
	invert    bool
}

func init() {
	log.SetFlags(0)

	flag.StringVar(&conf.input, "i", "", "input image (png, gif or jpeg)")
	flag.StringVar(&conf.output, "o", "splash/splash.go", "output Go source file")
	flag.StringVar(&conf.pkg, "p", "splash", "output package name")
	flag.IntVar(&conf.threshold, "t", 128, "luminance threshold for a lit pixel (0-255)")
	flag.BoolVar(&conf.invert, "n", false, "invert pixel polarity")
}

// pack converts a grayscale image to SSD1306 page addressing, 8 pages
// of 128 columns with the least significant bit at the top row of
// each page.
func pack(img *image.Gray) (frame [width * pages]byte) {
	for page := 0; page < pages; page++ {
		for x := 0; x < width; x++ {
			var v byte

			for bit := 0; bit < 8; bit++ {
				lit := int(img.GrayAt(x, page*8+bit).Y) >= conf.threshold

				if conf.invert {
					lit = !lit
				}

				if lit {
					v |= 1 << bit
				}
			}

			frame[page*width+x] = v
		}
	}

	return
}

func render(frame [width * pages]byte) []byte {
	buf := &bytes.Buffer{}

	fmt.Fprintf(buf, "// Code generated by mksplash. DO NOT EDIT.\n\n")
	fmt.Fprintf(buf, "// Package %s holds the boot splash frame rendered at power-on,\n", conf.pkg)
	fmt.Fprintf(buf, "// in SSD1306 page-addressed order (8 pages of 128 columns, LSB at\n")
	fmt.Fprintf(buf, "// the top row of each page).\n")
	fmt.Fprintf(buf, "package %s\n\n", conf.pkg)
	fmt.Fprintf(buf, "// Width and Height are the frame dimensions in pixels.\n")
	fmt.Fprintf(buf, "const (\n\tWidth  = %d\n\tHeight = %d\n)\n\n", width, height)
	fmt.Fprintf(buf, "// Frame is the %d byte page-addressed splash bitmap.\n", len(frame))
	fmt.Fprintf(buf, "var Frame = []byte{\n")

	for i, v := range frame {
		if i%16 == 0 {
			fmt.Fprintf(buf, "\t")
		}

		fmt.Fprintf(buf, "0x%02x,", v)

		if i%16 == 15 {
			fmt.Fprintf(buf, "\n")
		} else {
			fmt.Fprintf(buf, " ")
		}
	}

	fmt.Fprintf(buf, "}\n")

	return buf.Bytes()
}

func main() {
	flag.Parse()

	if conf.input == "" {
		flag.Usage()
		os.Exit(1)
	}

	in, err := os.Open(conf.input)

	if err != nil {
		log.Fatalf("could not open %s, %v", conf.input, err)
	}
	defer in.Close()

	src, _, err := image.Decode(in)

	if err != nil {
		log.Fatalf("could not decode %s, %v", conf.input, err)
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Src, nil)

	if err = os.WriteFile(conf.output, render(pack(gray)), 0644); err != nil {
		log.Fatalf("could not write %s, %v", conf.output, err)
	}

	log.Printf("wrote %s (%d×%d, %d bytes)", conf.output, width, height, width*pages)
}
