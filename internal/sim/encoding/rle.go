// Package encoding packs square tile grids for the wire.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// maxGridSide bounds decoded grids so a hostile payload cannot ask for an
// arbitrarily large allocation.
const maxGridSide = 4096

// EncodeGrid packs a size x size row-major grid of tile ids as
// base64(uvarint size, then (tile, run_len) uvarint pairs).
func EncodeGrid(size int, tiles []uint8) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(size))
	buf.Write(tmp[:n])

	i := 0
	for i < len(tiles) {
		t := tiles[i]
		run := 1
		for j := i + 1; j < len(tiles) && tiles[j] == t; j++ {
			run++
		}
		n = binary.PutUvarint(tmp[:], uint64(t))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeGrid reverses EncodeGrid. The runs must cover exactly size*size tiles.
func DecodeGrid(b64 string) (int, []uint8, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return 0, nil, err
	}
	size, n := binary.Uvarint(raw)
	if n <= 0 {
		return 0, nil, fmt.Errorf("bad size varint")
	}
	if size == 0 || size > maxGridSide {
		return 0, nil, fmt.Errorf("grid size out of range: %d", size)
	}
	want := int(size * size)
	out := make([]uint8, 0, want)
	for i := n; i < len(raw); {
		t, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return 0, nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return 0, nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if t > 0xFF {
			return 0, nil, fmt.Errorf("tile id too large: %d", t)
		}
		if run == 0 || run > uint64(want-len(out)) {
			return 0, nil, fmt.Errorf("run of %d overflows %dx%d grid", run, size, size)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint8(t))
		}
	}
	if len(out) != want {
		return 0, nil, fmt.Errorf("grid has %d tiles, want %d", len(out), want)
	}
	return int(size), out, nil
}
