package model

// TruncateString cuts s down to maxLength bytes without splitting a rune.
func TruncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	cut := maxLength
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
