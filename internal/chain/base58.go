package chain

import (
	"math/big"
)

// base58Alphabet is the Bitcoin/Solana base58 alphabet: no 0, O, I, l.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index [256]int8

func init() {
	for i := range base58Index {
		base58Index[i] = -1
	}
	for i, c := range base58Alphabet {
		base58Index[byte(c)] = int8(i)
	}
}

// EncodeBase58 encodes raw bytes as a base58 string, preserving leading
// zero bytes as leading '1' characters (the standard Bitcoin/Solana
// convention for addresses and signatures).
func EncodeBase58(data []byte) string {
	zeros := 0
	for zeros < len(data) && data[zeros] == 0 {
		zeros++
	}

	n := new(big.Int).SetBytes(data)
	base := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}
	// reverse
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// DecodeBase58 decodes a base58 string back into raw bytes.
func DecodeBase58(s string) ([]byte, error) {
	zeros := 0
	for zeros < len(s) && s[zeros] == base58Alphabet[0] {
		zeros++
	}

	n := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		idx := base58Index[s[i]]
		if idx < 0 {
			return nil, &InvalidBase58Error{Char: rune(s[i])}
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}

	body := n.Bytes()
	out := make([]byte, zeros+len(body))
	copy(out[zeros:], body)
	return out, nil
}

// InvalidBase58Error reports a character outside the base58 alphabet.
type InvalidBase58Error struct {
	Char rune
}

func (e *InvalidBase58Error) Error() string {
	return "chain: invalid base58 character " + string(e.Char)
}
