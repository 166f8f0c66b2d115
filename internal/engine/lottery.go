package engine

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandSource picks the next player to draw. Tests inject a fixed sequence.
type RandSource interface {
	// Intn returns a random integer in [0, n). Panics if n <= 0.
	Intn(n int) int
}

type cryptoRandSource struct{}

func (cryptoRandSource) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("cryptoRandSource.Intn: n must be positive, got %d", n))
	}
	// rand.Int does not error when using rand.Reader
	nBig, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(nBig.Int64())
}

var defaultRandSource RandSource = cryptoRandSource{}

func pickIndex(src RandSource, n int) int {
	if src == nil {
		src = defaultRandSource
	}
	return src.Intn(n)
}
