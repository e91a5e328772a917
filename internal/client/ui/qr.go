package ui

import (
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

// PrintQRCode renders data as a terminal QR code, for phones to scan a registration URL
func PrintQRCode(w io.Writer, data string) error {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}
	_, err = fmt.Fprintln(w, qr.ToSmallString(false))
	return err
}
