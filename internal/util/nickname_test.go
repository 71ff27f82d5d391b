package util

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRandomNickname(t *testing.T) {
	re := regexp.MustCompile(`^[A-Za-z]+#[1-9][0-9]{4}$`)
	for i := 0; i < 100; i++ {
		assert.Regexp(t, re, GenerateRandomNickname())
	}
}

func TestNicknameFrom(t *testing.T) {
	zero := func(int) int { return 0 }
	assert.Equal(t, "Alpha#10000", NicknameFrom(zero))

	last := func(n int) int { return n - 1 }
	assert.Equal(t, "Glitch#99999", NicknameFrom(last))
}
