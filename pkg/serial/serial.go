// Package serial implements RFC 1982 serial number arithmetic for the
// 32-bit sequence numbers used throughout the session data plane
// (CommandSN, ExpectedCommandSN, MaximumCommandSN, SlotSN).
package serial

// Number is a 32-bit unsigned modular integer compared with cyclic,
// wraparound-aware ordering as in RFC 1982, so that a session of unbounded
// duration never treats wraparound as a regression.
type Number uint32

// Ordering describes the result of a cyclic comparison.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// halfSpace is 2^31, the midpoint RFC 1982 uses to distinguish "ahead" from
// "behind" on the 32-bit cycle.
const halfSpace = 1 << 31

// Next returns the serial number n places after a, wrapping at 2^32.
func (a Number) Next(n uint32) Number {
	return a + Number(n)
}

// Distance returns (b - a) mod 2^32, i.e. how far forward a must travel to
// reach b.
func Distance(a, b Number) uint32 {
	return uint32(b - a)
}

// Compare implements RFC 1982 serial number comparison: a < b iff
// (a - b) mod 2^32 is in (2^31, 2^32), i.e. b is "ahead" of a by less than
// half the space.
func Compare(a, b Number) Ordering {
	if a == b {
		return Equal
	}
	diff := uint32(a - b)
	if diff == halfSpace {
		// Exactly half the space apart: RFC 1982 leaves this undefined.
		// The protocol never relies on this case since no single channel
		// issues 2^31 outstanding commands; treat it as Greater so the
		// comparison stays a total (if arbitrary) order.
		return Greater
	}
	if diff < halfSpace {
		// a is ahead of b.
		return Greater
	}
	return Less
}

// Before reports whether a precedes b cyclically.
func Before(a, b Number) bool { return Compare(a, b) == Less }

// BeforeOrEqual reports whether a precedes or equals b cyclically.
func BeforeOrEqual(a, b Number) bool {
	o := Compare(a, b)
	return o == Less || o == Equal
}

// After reports whether a follows b cyclically.
func After(a, b Number) bool { return Compare(a, b) == Greater }

// AfterOrEqual reports whether a follows or equals b cyclically.
func AfterOrEqual(a, b Number) bool {
	o := Compare(a, b)
	return o == Greater || o == Equal
}
