package telegram

import (
	"encoding/base64"
	"fmt"

	"rsc.io/qr"
)

// QRCodePNG renders link as a QR code and returns it as a data URI suitable
// for an <img> src. Used when the backend supplies a linkToBot but no
// pre-rendered QR image.
func QRCodePNG(link string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("empty link")
	}
	code, err := qr.Encode(link, qr.M)
	if err != nil {
		return "", fmt.Errorf("encoding qr: %w", err)
	}
	png := code.PNG()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
