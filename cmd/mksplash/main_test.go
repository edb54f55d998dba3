// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestPackOrientation(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, width, height))

	// one pixel per page boundary in column 3
	for bit := 0; bit < 8; bit++ {
		img.SetGray(3, 8+bit, color.Gray{Y: uint8(255 * (bit % 2))})
	}

	frame := pack(img)

	// page 1, column 3: odd bits lit
	if got := frame[width+3]; got != 0xaa {
		t.Errorf("expected 0xaa, got %#02x", got)
	}

	if frame[3] != 0 {
		t.Errorf("page 0 must be clear, got %#02x", frame[3])
	}
}

func TestRenderSource(t *testing.T) {
	var frame [width * pages]byte

	frame[0] = 0x5a

	src := render(frame)

	if !bytes.Contains(src, []byte("package splash")) {
		t.Error("expected the splash package clause")
	}

	if !bytes.Contains(src, []byte("0x5a,")) {
		t.Error("expected the frame contents emitted")
	}

	if !bytes.Contains(src, []byte("DO NOT EDIT")) {
		t.Error("expected the generated code marker")
	}
}
