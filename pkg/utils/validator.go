package utils

import (
	"fmt"
	"net"
	"strings"
)

func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// NormalizeMAC parses a 48-bit hardware address in any of the forms net.ParseMAC
// accepts and returns it upper-case and colon separated (AA:BB:CC:DD:EE:FF),
// which is how the router prints mac-address fields.
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return "", fmt.Errorf("invalid MAC address %q", mac)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address %q: expected 6 bytes", mac)
	}
	return strings.ToUpper(hw.String()), nil
}

func IsValidMAC(mac string) bool {
	_, err := NormalizeMAC(mac)
	return err == nil
}
