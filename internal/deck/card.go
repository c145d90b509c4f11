package deck

import "fmt"

// Width is the 2-bit code describing how many bits one card value uses.
type Width uint8

const (
	Width2 Width = iota
	Width4
	Width8
	Width16
)

// Valid reports whether w fits the 2-bit width field.
func (w Width) Valid() bool {
	return w <= Width16
}

// Bits returns the number of bits a single card value occupies.
func (w Width) Bits() int {
	return 2 << w
}

// MaxValue is the largest card value representable at this width.
func (w Width) MaxValue() uint64 {
	return 1<<uint(w.Bits()) - 1
}

// ParseWidth maps a bit size (2, 4, 8, 16) to its width code.
func ParseWidth(bits int) (Width, error) {
	switch bits {
	case 2:
		return Width2, nil
	case 4:
		return Width4, nil
	case 8:
		return Width8, nil
	case 16:
		return Width16, nil
	default:
		return 0, fmt.Errorf("%w: %d bits", ErrInvalidWidth, bits)
	}
}

func (w Width) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Width(%d)", uint8(w))
	}
	return fmt.Sprintf("%d-bit", w.Bits())
}
