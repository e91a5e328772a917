package utils

import (
	"crypto/rand"
	"math/big"
)

// voucherAlphabet leaves out 0/O and 1/I so printed codes can be typed back reliably
const voucherAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateVoucherCode generates a random voucher code of the given length
func GenerateVoucherCode(length int) (string, error) {
	code := make([]byte, length)
	max := big.NewInt(int64(len(voucherAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = voucherAlphabet[n.Int64()]
	}
	return string(code), nil
}
