package services

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Crockford style alphabet without I, L, O and U.
const voucherAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	voucherGroups    = 4
	voucherGroupSize = 4
)

// NewVoucherCode returns an 80 bit random code formatted as XXXX-XXXX-XXXX-XXXX.
func NewVoucherCode() (string, error) {
	buf := make([]byte, voucherGroups*voucherGroupSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("voucher code: %w", err)
	}
	var b strings.Builder
	b.Grow(len(buf) + voucherGroups - 1)
	for i, v := range buf {
		if i > 0 && i%voucherGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(voucherAlphabet[int(v)%len(voucherAlphabet)])
	}
	return b.String(), nil
}
