package encryption

// MaskMarker replaces every hidden character run in a masked secret.
const MaskMarker = "********"

// maskMinLen is the shortest secret whose tail is shown.
const maskMinLen = 8

// Mask returns a display-safe form of secret: the fixed marker followed by
// the last four characters, or the marker alone for short secrets. The
// output length does not depend on the secret length.
func Mask(secret string) string {
	r := []rune(secret)
	if len(r) < maskMinLen {
		return MaskMarker
	}
	return MaskMarker + string(r[len(r)-4:])
}
