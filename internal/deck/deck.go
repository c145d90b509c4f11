package deck

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/bits-and-blooms/bitset"
)

// MaxCapacity is the largest number of card indices a deck can address.
const MaxCapacity = 254

// metaBits is the number of low bits reserved for the card width code.
const metaBits = 2

var (
	ErrIndexOutOfRange  = errors.New("deck: card index out of range")
	ErrInvalidCapacity  = errors.New("deck: invalid capacity")
	ErrInvalidWidth     = errors.New("deck: invalid card width code")
	ErrValueOutOfBounds = errors.New("deck: encoded value exceeds capacity")
)

// Deck is a set of card indices drawn from [0, Capacity) plus the width
// code of the card values it refers to. A Deck is immutable; mutators
// return a modified copy.
type Deck struct {
	width    Width
	capacity int
	bits     *bitset.BitSet
}

// Empty returns a deck with no indices present.
func Empty(width Width, capacity int) (Deck, error) {
	if !width.Valid() {
		return Deck{}, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	if capacity < 1 || capacity > MaxCapacity {
		return Deck{}, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return Deck{width: width, capacity: capacity, bits: bitset.New(uint(capacity))}, nil
}

// Full returns a deck with every index in [0, capacity) present.
func Full(width Width, capacity int) (Deck, error) {
	d, err := Empty(width, capacity)
	if err != nil {
		return Deck{}, err
	}
	for i := 0; i < capacity; i++ {
		d.bits.Set(uint(i))
	}
	return d, nil
}

// Encode builds a deck holding exactly the given indices.
func Encode(width Width, capacity int, present []int) (Deck, error) {
	d, err := Empty(width, capacity)
	if err != nil {
		return Deck{}, err
	}
	for _, i := range present {
		if i < 0 || i >= capacity {
			return Deck{}, fmt.Errorf("%w: %d (capacity %d)", ErrIndexOutOfRange, i, capacity)
		}
		d.bits.Set(uint(i))
	}
	return d, nil
}

// Decode returns the width code and the ascending list of present indices.
func Decode(d Deck) (Width, []int) {
	return d.width, d.Indices()
}

func (d Deck) Width() Width  { return d.width }
func (d Deck) Capacity() int { return d.capacity }

// Contains reports whether index i is present. Out of range indices are
// never present.
func (d Deck) Contains(i int) bool {
	if d.bits == nil || i < 0 || i >= d.capacity {
		return false
	}
	return d.bits.Test(uint(i))
}

// Add returns a copy of d with index i present.
func (d Deck) Add(i int) (Deck, error) {
	if i < 0 || i >= d.capacity {
		return d, fmt.Errorf("%w: %d (capacity %d)", ErrIndexOutOfRange, i, d.capacity)
	}
	out := d.clone()
	out.bits.Set(uint(i))
	return out, nil
}

// Remove returns a copy of d with index i absent.
func (d Deck) Remove(i int) (Deck, error) {
	if i < 0 || i >= d.capacity {
		return d, fmt.Errorf("%w: %d (capacity %d)", ErrIndexOutOfRange, i, d.capacity)
	}
	out := d.clone()
	out.bits.Clear(uint(i))
	return out, nil
}

// Count returns the number of present indices.
func (d Deck) Count() int {
	if d.bits == nil {
		return 0
	}
	return int(d.bits.Count())
}

// IsEmpty reports whether no index is present.
func (d Deck) IsEmpty() bool {
	return d.Count() == 0
}

// Indices returns the present indices in ascending order.
func (d Deck) Indices() []int {
	out := make([]int, 0, d.Count())
	if d.bits == nil {
		return out
	}
	for i, ok := d.bits.NextSet(0); ok && int(i) < d.capacity; i, ok = d.bits.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// Nth returns the k-th present index in ascending order.
func (d Deck) Nth(k int) (int, bool) {
	if k < 0 || d.bits == nil {
		return 0, false
	}
	n := 0
	for i, ok := d.bits.NextSet(0); ok && int(i) < d.capacity; i, ok = d.bits.NextSet(i + 1) {
		if n == k {
			return int(i), true
		}
		n++
	}
	return 0, false
}

// Union returns the indices present in either deck. Both decks must share
// width and capacity.
func (d Deck) Union(o Deck) (Deck, error) {
	if d.capacity != o.capacity || d.width != o.width {
		return d, fmt.Errorf("deck: union of mismatched decks (%d/%d vs %d/%d)", d.width, d.capacity, o.width, o.capacity)
	}
	out := d.clone()
	if o.bits != nil {
		out.bits.InPlaceUnion(o.bits)
	}
	return out, nil
}

// Intersects reports whether any index is present in both decks.
func (d Deck) Intersects(o Deck) bool {
	if d.bits == nil || o.bits == nil {
		return false
	}
	return d.bits.IntersectionCardinality(o.bits) > 0
}

// Equal reports whether both decks hold the same indices, width and capacity.
func (d Deck) Equal(o Deck) bool {
	if d.width != o.width || d.capacity != o.capacity {
		return false
	}
	return d.Value().Cmp(o.Value()) == 0
}

// Value returns the integer encoding: the width code in bits 0-1 and bit
// (2+i) set for every present index i.
func (d Deck) Value() *big.Int {
	v := new(big.Int).SetUint64(uint64(d.width) & 0x3)
	for _, i := range d.Indices() {
		v.SetBit(v, i+metaBits, 1)
	}
	return v
}

// FromValue decodes the integer encoding produced by Value.
func FromValue(v *big.Int, capacity int) (Deck, error) {
	if v == nil || v.Sign() < 0 {
		return Deck{}, fmt.Errorf("%w: negative or nil value", ErrValueOutOfBounds)
	}
	if v.BitLen() > capacity+metaBits {
		return Deck{}, fmt.Errorf("%w: %d bits for capacity %d", ErrValueOutOfBounds, v.BitLen(), capacity)
	}
	width := Width(v.Bit(0) | v.Bit(1)<<1)
	d, err := Empty(width, capacity)
	if err != nil {
		return Deck{}, err
	}
	for i := 0; i < capacity; i++ {
		if v.Bit(i+metaBits) == 1 {
			d.bits.Set(uint(i))
		}
	}
	return d, nil
}

// String renders the deck as its hex encoding.
func (d Deck) String() string {
	return "0x" + d.Value().Text(16)
}

func (d Deck) clone() Deck {
	out := Deck{width: d.width, capacity: d.capacity}
	if d.bits == nil {
		out.bits = bitset.New(uint(d.capacity))
	} else {
		out.bits = d.bits.Clone()
	}
	return out
}
