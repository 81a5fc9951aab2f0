package wgconf

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRCodePNG renders a configuration document as a PNG QR code, the usual
// way mobile WireGuard apps import a profile.
func QRCodePNG(config string, size int) ([]byte, error) {
	if config == "" {
		return nil, fmt.Errorf("config cannot be empty")
	}
	return qrcode.Encode(config, qrcode.Medium, size)
}
