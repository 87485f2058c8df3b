package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const orderNumberSpace = 1_000_000

// GenerateOrderNumber builds a human readable order id: PREFIX-YYYY-NNNNNN.
func GenerateOrderNumber(prefix string, now time.Time) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "ORD"
	}

	n, err := rand.Int(rand.Reader, big.NewInt(orderNumberSpace))
	if err != nil {
		// fallback: time-based entropy
		n = big.NewInt(now.UnixNano() % orderNumberSpace)
	}

	return fmt.Sprintf("%s-%04d-%06d", prefix, now.UTC().Year(), n.Int64())
}
