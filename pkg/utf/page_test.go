package utf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageSetPreservesInsertionOrder(t *testing.T) {
	p := NewPage("TEST")
	p.Set("b", NewU8(1))
	p.Set("a", NewU8(2))
	p.Set("b", NewU8(3))

	require.Equal(t, []string{"b", "a"}, p.Keys())
	el, ok := p.Get("b")
	require.True(t, ok)
	v, _ := el.U8()
	require.Equal(t, uint8(3), v)
}

func TestPageSameSchema(t *testing.T) {
	a := NewPage("TEST")
	a.Set("x", NewU8(1))
	a.Set("y", NewU8(2))

	b := NewPage("TEST")
	b.Set("x", NewU8(9))
	b.Set("y", NewU8(9))

	require.True(t, a.SameSchema(b))

	c := NewPage("TEST")
	c.Set("y", NewU8(9))
	c.Set("x", NewU8(9))
	require.False(t, a.SameSchema(c))

	d := NewPage("OTHER")
	d.Set("x", NewU8(1))
	d.Set("y", NewU8(2))
	require.False(t, a.SameSchema(d))
}

func TestPageEqualIgnoresOrder(t *testing.T) {
	a := NewPage("TEST")
	a.Set("x", NewU8(1))
	a.Set("y", NewU8(2))

	b := NewPage("TEST")
	b.Set("y", NewU8(2))
	b.Set("x", NewU8(1))

	require.True(t, a.Equal(b))

	b.Set("x", NewU8(3))
	require.False(t, a.Equal(b))
}

func TestPageMustGetMissingReturnsZeroValue(t *testing.T) {
	p := NewPage("TEST")
	require.Equal(t, Element{}, p.MustGet("missing"))
}
