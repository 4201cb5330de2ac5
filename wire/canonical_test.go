// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalLexicalOrder(t *testing.T) {
	require := require.New(t)

	binField := []byte{0xff, 0x00}
	out, err := Canonical(
		Field{Key: "zeta", Value: "1"},
		Field{Key: "alpha", Value: "2"},
		Field{Key: "mid", Value: binField},
	)
	require.NoError(err)
	want := "alpha=2&mid=" + base64.RawURLEncoding.EncodeToString(binField) + "&zeta=1"
	require.Equal(want, string(out))
}

func TestCanonicalRejectsUnknownType(t *testing.T) {
	require := require.New(t)

	_, err := Canonical(Field{Key: "x", Value: 3.14})
	require.Error(err)
}

func TestCanonicalDeterministic(t *testing.T) {
	require := require.New(t)

	a, err := Canonical(Field{Key: "b", Value: "2"}, Field{Key: "a", Value: "1"})
	require.NoError(err)
	b, err := Canonical(Field{Key: "a", Value: "1"}, Field{Key: "b", Value: "2"})
	require.NoError(err)
	require.Equal(a, b)
}
