package codec

import "encoding/binary"

// decoder runs incremental Gaussian elimination over GF(256). Rows are kept
// in reduced row-echelon form at all times: row p (pivot at column p) stores
// its coefficient vector in rows[p] and its symbol data in the mutable block
// at offset p*S. A symbol is decoded in place exactly when its row has been
// reduced to a unit vector.
type decoder struct {
	maxSymbols int
	symbolSize int
	block      []byte
	rows       [][]byte // coefficient vectors indexed by pivot, nil if absent
	rank       int
	vec        []byte // scratch coefficient vector of the incoming payload
	data       []byte // scratch symbol data of the incoming payload
}

func newDecoder(maxSymbols, symbolSize int) *decoder {
	return &decoder{
		maxSymbols: maxSymbols,
		symbolSize: symbolSize,
		rows:       make([][]byte, maxSymbols),
		vec:        make([]byte, maxSymbols),
		data:       make([]byte, symbolSize),
	}
}

func (d *decoder) SetMutableBlock(buf []byte) error {
	if len(buf) != d.maxSymbols*d.symbolSize {
		return ErrBlockSize
	}
	d.block = buf
	return nil
}

func (d *decoder) Rank() int {
	return d.rank
}

func (d *decoder) IsComplete() bool {
	return d.rank == d.maxSymbols
}

func (d *decoder) IsSymbolUncoded(index int) bool {
	if index < 0 || index >= d.maxSymbols || d.rows[index] == nil {
		return false
	}
	for j, c := range d.rows[index] {
		if j == index {
			if c != 1 {
				return false
			}
		} else if c != 0 {
			return false
		}
	}
	return true
}

func (d *decoder) symbol(index int) []byte {
	return d.block[index*d.symbolSize : (index+1)*d.symbolSize]
}

func (d *decoder) ReadPayload(in []byte) error {
	if d.block == nil {
		return ErrNoBlock
	}
	if len(in) != headerSize+d.symbolSize {
		return ErrPayload
	}
	if d.IsComplete() {
		return nil
	}

	for i := range d.vec {
		d.vec[i] = 0
	}
	ref := binary.LittleEndian.Uint32(in[4:8])
	switch in[0] {
	case kindSystematic:
		if ref >= uint32(d.maxSymbols) {
			return ErrPayload
		}
		d.vec[ref] = 1
	case kindRepair:
		width := int(binary.LittleEndian.Uint16(in[2:4]))
		if width == 0 || width > d.maxSymbols {
			return ErrPayload
		}
		coefficients(ref, width, d.vec)
	default:
		return ErrPayload
	}
	copy(d.data, in[headerSize:])

	d.insert()
	return nil
}

// insert reduces the scratch row against every existing pivot and, if it
// stays linearly independent, installs it and restores RREF.
func (d *decoder) insert() {
	// Forward pass: cancel every pivot-column entry. Pivot rows are zero at
	// each other's pivot columns, so cancelled columns stay cancelled.
	for j := 0; j < d.maxSymbols; j++ {
		c := d.vec[j]
		if c == 0 || d.rows[j] == nil {
			continue
		}
		gfAddScaled(d.vec, d.rows[j], c)
		gfAddScaled(d.data, d.symbol(j), c)
	}

	pivot := -1
	for j, c := range d.vec {
		if c != 0 {
			pivot = j
			break
		}
	}
	if pivot == -1 {
		// Reduced to zero: the payload was redundant
		return
	}

	// Normalize and install the new pivot row
	inv := gfInv(d.vec[pivot])
	gfScale(d.vec, inv)
	gfScale(d.data, inv)
	row := make([]byte, d.maxSymbols)
	copy(row, d.vec)
	d.rows[pivot] = row
	copy(d.symbol(pivot), d.data)
	d.rank++

	// Back-substitute into the older rows
	for p, other := range d.rows {
		if other == nil || p == pivot {
			continue
		}
		f := other[pivot]
		if f == 0 {
			continue
		}
		gfAddScaled(other, row, f)
		gfAddScaled(d.symbol(p), d.symbol(pivot), f)
	}
}
