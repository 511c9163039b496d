package game

import (
	"crypto/rand"
	"math/big"
)

// vocabulary is the fixed secret-word pool. Everyday pt-BR words so the
// impostor cannot spot the secret by register alone.
var vocabulary = []string{
	"Banana",
	"Avião",
	"Praia",
	"Computador",
	"Futebol",
	"Cerveja",
	"Brasil",
	"Churrasco",
}

func pickWord() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(vocabulary))))
	if err != nil {
		return "", err
	}
	return vocabulary[n.Int64()], nil
}

// Vocabulary exposes a copy of the word pool for tests and narration.
func Vocabulary() []string {
	out := make([]string, len(vocabulary))
	copy(out, vocabulary)
	return out
}
