package payment

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// QRPNGBase64 renders a copia-e-cola string as a base64 PNG for chat delivery.
// Rendering failures are not fatal: the text code alone is still payable.
func QRPNGBase64(copiaCola string) (string, error) {
	png, err := qrcode.Encode(copiaCola, qrcode.Medium, 512)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
