package attrd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandValuePlusPlus(t *testing.T) {
	assert.Equal(t, "6", ExpandValue("5++", "5"))
	assert.Equal(t, "1", ExpandValue("x++", "not-a-number"))
}

func TestExpandValuePlusEquals(t *testing.T) {
	assert.Equal(t, "8", ExpandValue("x+=3", "5"))
	assert.Equal(t, "-3", ExpandValue("x+=-3", "0"))
}

func TestExpandValuePassesThroughOtherwise(t *testing.T) {
	assert.Equal(t, "hello", ExpandValue("hello", "5"))
	assert.Equal(t, "3", ExpandValue("3", "999"))
}

func TestExpandValueSaturates(t *testing.T) {
	got := ExpandValue("x+=9223372036854775807", "1")
	assert.Equal(t, "9223372036854775807", got)
}
