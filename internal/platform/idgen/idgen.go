// Package idgen produces the human-facing document numbers used across the
// clinic: BILL-20261018-0A1B2C, OPD-..., RX-..., PAT-...
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

type Prefix string

const (
	Bill         Prefix = "BILL"
	Visit        Prefix = "OPD"
	Prescription Prefix = "RX"
	Patient      Prefix = "PAT"
)

// Generator hands out document numbers. Implementations must be safe for
// concurrent use.
type Generator interface {
	Next(prefix Prefix) string
}

// Random builds numbers from the UTC date and three random bytes.
type Random struct {
	Now  func() time.Time
	Rand io.Reader
}

// NewRandom returns a Random generator using the wall clock and crypto/rand.
func NewRandom() *Random {
	return &Random{Now: time.Now, Rand: rand.Reader}
}

func (g *Random) Next(prefix Prefix) string {
	var b [3]byte
	if _, err := io.ReadFull(g.Rand, b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("idgen: read random bytes: %v", err))
	}
	return Format(prefix, g.Now(), strings.ToUpper(hex.EncodeToString(b[:])))
}

// Format renders PREFIX-yyyyMMdd-SUFFIX with the date taken in UTC.
func Format(prefix Prefix, at time.Time, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), suffix)
}
