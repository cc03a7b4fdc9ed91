package identifier

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BarcodeLength is the number of characters in a barcode.
const BarcodeLength = 8

// BarcodeFromUUID derives a barcode from the leading hex digits of u.
func BarcodeFromUUID(u uuid.UUID) string {
	return u.String()[:BarcodeLength]
}

// NormalizeBarcode folds case and strips surrounding whitespace so that
// barcodes typed or scanned by hand still resolve.
func NormalizeBarcode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidBarcode reports whether s is a well-formed, normalized barcode.
func ValidBarcode(s string) bool {
	if len(s) != BarcodeLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// HammingDistance counts the positions at which a and b differ.
func HammingDistance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("hamming distance undefined for lengths %d and %d", len(a), len(b))
	}
	d := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d, nil
}
