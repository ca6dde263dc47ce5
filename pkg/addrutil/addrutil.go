// Package addrutil provides the address parsing and alignment helpers shared
// by the monitor's inspectors.
package addrutil

// ParseHex converts a hexadecimal string to a uint32. A leading "0x" or "0X"
// prefix is stripped. Only the digits 0-9 and the lowercase letters a-f
// contribute to the result; any other character (including uppercase hex
// letters) contributes zero. Parsing never fails: malformed input silently
// degrades instead of producing an error, and that behavior is part of the
// monitor's observable contract.
func ParseHex(text string) uint32 {
	if len(text) >= 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X') {
		text = text[2:]
	}
	var sum uint32
	for i := 0; i < len(text); i++ {
		sum <<= 4
		c := text[i]
		switch {
		case c >= 'a' && c <= 'f':
			sum += uint32(c-'a') + 10
		case c >= '0' && c <= '9':
			sum += uint32(c - '0')
		}
	}
	return sum
}

// ParseDec converts a decimal string to a uint32 with the same leniency as
// ParseHex: non-digit characters contribute zero.
func ParseDec(text string) uint32 {
	var sum uint32
	for i := 0; i < len(text); i++ {
		sum *= 10
		if c := text[i]; c >= '0' && c <= '9' {
			sum += uint32(c - '0')
		}
	}
	return sum
}

// RoundDown rounds addr down to a multiple of unit. Unit must be a power of
// two.
func RoundDown(addr, unit uint32) uint32 {
	return addr &^ (unit - 1)
}

// RoundUp rounds addr up to a multiple of unit. Unit must be a power of two.
func RoundUp(addr, unit uint32) uint32 {
	return (addr + unit - 1) &^ (unit - 1)
}

// Min returns the smaller of a and b.
func Min(a, b uint32) uint32 {
	if a <= b {
		return a
	}
	return b
}
