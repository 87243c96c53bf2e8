package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeTxHash validates a 32-byte transaction hash and returns its
// lower-case 0x form. Replay guards compare hashes in this form.
func NormalizeTxHash(hash string) (string, bool) {
	hash = strings.TrimSpace(hash)
	hex := strings.TrimPrefix(strings.TrimPrefix(hash, "0x"), "0X")
	if len(hex) != 2*common.HashLength {
		return "", false
	}
	for _, c := range hex {
		if !isHexDigit(c) {
			return "", false
		}
	}
	return common.HexToHash(hex).Hex(), true
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
