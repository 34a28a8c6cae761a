package room

import (
	"crypto/rand"
	"math/big"
)

// 去掉了 0/O、1/I 这类容易看错的字符
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 6

// NewJoinCode returns a random room code players can type in.
func NewJoinCode() (string, error) {
	size := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
