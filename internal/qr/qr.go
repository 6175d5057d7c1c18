package qr

import (
	"crypto/rand"
	"encoding/base32"
	"strconv"
	"strings"
	"time"
)

// Tokens look like "EVT-<unix millis base36>-<12 chars base32>". The time part
// keeps them sortable for humans, the random part carries 60 bits of entropy.
// The token says nothing about the attendee; resolving it requires a store lookup.

const tokenPrefix = "EVT"

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

type Generator struct {
	now func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Issue returns a fresh check-in token. It fails closed: if the randomness
// source errors, no token is issued and the caller must fail the registration.
func (g *Generator) Issue() (string, error) {
	var buf [8]byte

	_, err := rand.Read(buf[:])

	if err != nil {
		return "", err
	}

	ms := g.now().UTC().UnixMilli()

	// 8 random bytes encode to 13 base32 chars; 12 keep the token compact
	// while leaving 60 bits of entropy.
	random := strings.ToLower(b32.EncodeToString(buf[:]))[:12]

	return tokenPrefix + "-" + strconv.FormatInt(ms, 36) + "-" + random, nil
}
