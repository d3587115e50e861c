package booking

import (
	"crypto/rand"
	"math/big"
)

// CodeSource produces confirmation codes. Uniqueness is enforced by the
// appointment ledger; a source only needs to make collisions unlikely.
type CodeSource interface {
	Generate() (string, error)
}

// Letters exclude I, L and O, which read as digits.
const (
	codeLetters = "ABCDEFGHJKMNPQRSTUVWXYZ"
	codeDigits  = "0123456789"
)

// RandomCodes generates codes shaped like "KXPT-4821".
type RandomCodes struct{}

func (RandomCodes) Generate() (string, error) {
	buf := make([]byte, 9)
	for i := range buf {
		switch {
		case i == 4:
			buf[i] = '-'
			continue
		case i < 4:
			c, err := pick(codeLetters)
			if err != nil {
				return "", err
			}
			buf[i] = c
		default:
			c, err := pick(codeDigits)
			if err != nil {
				return "", err
			}
			buf[i] = c
		}
	}
	return string(buf), nil
}

func pick(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[n.Int64()], nil
}
