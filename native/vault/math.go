package vault

import "math/bits"

// Checked 64-bit accumulator arithmetic. Any overflow aborts the enclosing
// operation with ErrMathOverflow before state is written.

func checkedAdd64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

func checkedMul64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrMathOverflow
	}
	return lo, nil
}

func checkedAdd32(a uint32, b uint32) (uint32, error) {
	sum := uint64(a) + uint64(b)
	if sum > uint64(^uint32(0)) {
		return 0, ErrMathOverflow
	}
	return uint32(sum), nil
}
