package chain

import "regexp"

var hexAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// HexAddressValidator accepts 20-byte hex addresses with a 0x prefix.
type HexAddressValidator struct{}

func (HexAddressValidator) IsValidAddress(address string) bool {
	return hexAddressPattern.MatchString(address)
}
