// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the quorum core's external interfaces (§6): the
// canonical serialization every signature is computed over, the
// peer-to-peer message envelope, and the transport confidentiality guard.
//
// Canonical encoding is a single hand-written encoder rather than
// protobuf's own canonicalization, since the spec fixes a specific
// lexical-key / decimal-integer / unpadded-base64url form that must hold
// regardless of wire encoding. The form carries no version tag, and the
// package has no decoder for it.
package wire

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Field is one key/value pair of a canonical form. Value must be a string,
// a bool, an int, int64, uint64 or uint32, or []byte (encoded as unpadded
// base64url); any other type is rejected.
type Field struct {
	Key   string
	Value interface{}
}

// Canonical renders fields in lexical key order, as required by §6:
// "Fields in lexical order by key; integers in decimal; binary fields
// base64url without padding."
func Canonical(fields ...Field) ([]byte, error) {
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})

	var b strings.Builder
	for i, f := range sorted {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		rendered, err := renderValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("wire: field %q: %w", f.Key, err)
		}
		b.WriteString(rendered)
	}
	return []byte(b.String()), nil
}

func renderValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return base64.RawURLEncoding.EncodeToString(t), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	default:
		return "", fmt.Errorf("unsupported canonical field type %T", v)
	}
}
