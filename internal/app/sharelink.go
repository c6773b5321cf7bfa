package app

import (
	"fmt"

	"github.com/dkeye/strealome/internal/domain"
	gonanoid "github.com/jaevor/go-nanoid"
)

const shareLinkAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type linkGenerator struct {
	gen func() string
}

func newLinkGenerator(length int) (*linkGenerator, error) {
	if length < 4 || length > 64 {
		return nil, fmt.Errorf("share link length %d out of range [4, 64]", length)
	}
	gen, err := gonanoid.CustomASCII(shareLinkAlphabet, length)
	if err != nil {
		return nil, err
	}
	return &linkGenerator{gen: gen}, nil
}

func (g *linkGenerator) next() domain.RoomLink { return domain.RoomLink(g.gen()) }

// IsShareLink reports whether s could have been produced as a share link
// of the given length.
func IsShareLink(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, c := range s {
		if !isAlphanumeric(c) {
			return false
		}
	}
	return true
}

func isAlphanumeric(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
