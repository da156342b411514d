// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wire implements the event router's self-describing binary codec
// and length-delimited frame protocol. No msgpack/cbor library fits this
// shape, so the payload encoding below is a deliberately small,
// self-describing tagged format built on encoding/binary rather than a
// fabricated dependency.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/runbench/bench/pkg/berrors"
)

// tag identifies the wire type of an encoded value.
type tag byte

const (
	tagNil tag = iota
	tagString
	tagInt
	tagFloat
	tagBytes
	tagMap
	tagArray
	tagBool
)

// Value is the self-describing payload type exchanged over the wire:
// string, int64, float64, []byte, bool, nil, map[string]Value, or []Value.
type Value = any

// EncodePayload renders v into its tagged binary form.
func EncodePayload(v Value) ([]byte, error) {
	var buf []byte
	out, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, byte(tagNil)), nil
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return append(buf, byte(tagBool), b), nil
	case string:
		buf = append(buf, byte(tagString))
		return appendLengthPrefixed(buf, []byte(x)), nil
	case []byte:
		buf = append(buf, byte(tagBytes))
		return appendLengthPrefixed(buf, x), nil
	case int:
		return appendInt(buf, int64(x)), nil
	case int64:
		return appendInt(buf, x), nil
	case float64:
		return appendFloat(buf, x), nil
	case map[string]Value:
		return appendMap(buf, x)
	case []Value:
		return appendArray(buf, x)
	default:
		return nil, fmt.Errorf("%w: unsupported payload value type %T", berrors.ErrTransport, v)
	}
}

func appendLengthPrefixed(buf, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

func appendInt(buf []byte, v int64) []byte {
	buf = append(buf, byte(tagInt))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendFloat(buf []byte, v float64) []byte {
	buf = append(buf, byte(tagFloat))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

func appendMap(buf []byte, m map[string]Value) ([]byte, error) {
	buf = append(buf, byte(tagMap))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(m)))
	buf = append(buf, countBuf[:]...)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		buf = appendLengthPrefixed(buf, []byte(k))
		buf, err = appendValue(buf, m[k])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendArray(buf []byte, items []Value) ([]byte, error) {
	buf = append(buf, byte(tagArray))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(items)))
	buf = append(buf, countBuf[:]...)

	var err error
	for _, item := range items {
		buf, err = appendValue(buf, item)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodePayload parses the tagged binary form back into a Value.
func DecodePayload(data []byte) (Value, error) {
	v, rest, err := readValue(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after payload", berrors.ErrTransport)
	}
	return v, nil
}

func readValue(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", berrors.ErrTransport)
	}
	t := tag(data[0])
	data = data[1:]

	switch t {
	case tagNil:
		return nil, data, nil
	case tagBool:
		if len(data) < 1 {
			return nil, nil, fmt.Errorf("%w: truncated bool", berrors.ErrTransport)
		}
		return data[0] != 0, data[1:], nil
	case tagString:
		raw, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		return string(raw), rest, nil
	case tagBytes:
		return readLengthPrefixed(data)
	case tagInt:
		if len(data) < 8 {
			return nil, nil, fmt.Errorf("%w: truncated int", berrors.ErrTransport)
		}
		return int64(binary.BigEndian.Uint64(data[:8])), data[8:], nil
	case tagFloat:
		if len(data) < 8 {
			return nil, nil, fmt.Errorf("%w: truncated float", berrors.ErrTransport)
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data[:8])), data[8:], nil
	case tagMap:
		return readMap(data)
	case tagArray:
		return readArray(data)
	default:
		return nil, nil, fmt.Errorf("%w: unknown tag %d", berrors.ErrTransport, t)
	}
}

func readLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated length prefix", berrors.ErrTransport)
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("%w: truncated value, want %d bytes", berrors.ErrTransport, n)
	}
	return data[:n], data[n:], nil
}

func readMap(data []byte) (Value, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated map count", berrors.ErrTransport)
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	m := make(map[string]Value, n)
	for i := uint32(0); i < n; i++ {
		keyRaw, rest, err := readLengthPrefixed(data)
		if err != nil {
			return nil, nil, err
		}
		val, rest2, err := readValue(rest)
		if err != nil {
			return nil, nil, err
		}
		m[string(keyRaw)] = val
		data = rest2
	}
	return m, data, nil
}

func readArray(data []byte) (Value, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated array count", berrors.ErrTransport)
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	items := make([]Value, 0, n)
	for i := uint32(0); i < n; i++ {
		val, rest, err := readValue(data)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, val)
		data = rest
	}
	return items, data, nil
}
