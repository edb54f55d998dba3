// Copyright (c) The rpi-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package gpio

// SD card interface lines, routed to the internal slot through
// alternate function 3.
const (
	sdLineFirst = 48
	sdLineLast  = 53
)

// SelectSD routes lines 48-53 to the SD0 host controller (ALT3) and
// enables their pull-ups, as required before the controller bring-up
// sequence.
func (g *GPIO) SelectSD() {
	for num := sdLineFirst; num <= sdLineLast; num++ {
		p, _ := g.Pin(num)
		p.Alt3()
	}

	// lines 48-53 all live in the second pull clock bank
	g.Pull(1, 0x3f<<(sdLineFirst-32), PullUp)
}
