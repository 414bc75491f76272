package parser

import "strconv"

// pow10 covers every fraction length the fast path accepts.
var pow10 = [...]float64{
	1e0, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9,
	1e10, 1e11, 1e12, 1e13, 1e14, 1e15, 1e16, 1e17, 1e18,
}

// maxFastDigits keeps the accumulated mantissa inside a uint64.
const maxFastDigits = 18

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\v' || c == '\f'
}

// nextField returns the first whitespace-delimited field of b and the
// remainder after it. field is nil when b holds only whitespace.
func nextField(b []byte) (field, rest []byte) {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	if i == len(b) {
		return nil, nil
	}
	j := i
	for j < len(b) && !isSpace(b[j]) {
		j++
	}
	return b[i:j], b[j:]
}

// parseFloat parses a signed decimal with at most one fraction part by
// accumulating an integer and scaling it. Tokens outside that grammar
// (exponents, very long mantissas) go through strconv.
func parseFloat(tok []byte) (float32, bool) {
	i := 0
	neg := false
	if i < len(tok) && (tok[i] == '-' || tok[i] == '+') {
		neg = tok[i] == '-'
		i++
	}

	var mant uint64
	digits, frac := 0, 0
	dot := false
	for ; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c >= '0' && c <= '9':
			mant = mant*10 + uint64(c-'0')
			digits++
			if dot {
				frac++
			}
			if digits > maxFastDigits {
				return parseFloatSlow(tok)
			}
		case c == '.' && !dot:
			dot = true
		default:
			return parseFloatSlow(tok)
		}
	}
	if digits == 0 {
		return 0, false
	}

	v := float64(mant) / pow10[frac]
	if neg {
		v = -v
	}
	return float32(v), true
}

func parseFloatSlow(tok []byte) (float32, bool) {
	f, err := strconv.ParseFloat(string(tok), 32)
	if err != nil {
		return 0, false
	}
	return float32(f), true
}

// parseIndex parses an optionally negative decimal integer.
func parseIndex(tok []byte) (int, bool) {
	i := 0
	neg := false
	if i < len(tok) && tok[i] == '-' {
		neg = true
		i++
	}
	if i == len(tok) || len(tok)-i > maxFastDigits {
		return 0, false
	}
	n := 0
	for ; i < len(tok); i++ {
		c := tok[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}
