package utf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestElementAccessorsMatchType(t *testing.T) {
	el := NewI32(-7)
	v, ok := el.I32()
	require.True(t, ok)
	require.Equal(t, int32(-7), v)

	_, ok = el.U32()
	require.False(t, ok)

	_, ok = el.String()
	require.False(t, ok)
}

func TestElementIntWidensSignedAndUnsigned(t *testing.T) {
	v, ok := NewI8(-1).Int()
	require.True(t, ok)
	require.Equal(t, int64(-1), v)

	v, ok = NewU64(1 << 40).Int()
	require.True(t, ok)
	require.Equal(t, int64(1<<40), v)

	_, ok = NewString("x").Int()
	require.False(t, ok)
}

func TestElementEqual(t *testing.T) {
	require.True(t, NewU16(5).Equal(NewU16(5)))
	require.False(t, NewU16(5).Equal(NewU16(6)))
	require.False(t, NewU16(5).Equal(NewI16(5)))
	require.True(t, NewBytes([]byte{1, 2, 3}).Equal(NewBytes([]byte{1, 2, 3})))
	require.False(t, NewBytes([]byte{1, 2, 3}).Equal(NewBytes([]byte{1, 2})))
}

func TestElementTypeString(t *testing.T) {
	require.Equal(t, "I8", TypeI8.String())
	require.Equal(t, "Bytes", TypeBytes.String())
	require.Contains(t, ElementType(0x7F).String(), "0x7f")
}
