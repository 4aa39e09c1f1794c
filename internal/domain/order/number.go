package order

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	orderNumberSuffix   = 5
)

// NewOrderNumber returns ORD-YYYYMMDD-XXXXX using the UTC date of now and
// five random base-36 characters. Uniqueness is left to the database.
func NewOrderNumber(now time.Time) string {
	n, err := generateOrderNumber(now, rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("order number: read random: %v", err))
	}
	return n
}

func generateOrderNumber(now time.Time, rnd io.Reader) (string, error) {
	max := big.NewInt(int64(len(orderNumberAlphabet)))
	suffix := make([]byte, orderNumberSuffix)
	for i := range suffix {
		v, err := rand.Int(rnd, max)
		if err != nil {
			return "", err
		}
		suffix[i] = orderNumberAlphabet[v.Int64()]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix), nil
}
