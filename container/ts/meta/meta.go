/*
NAME
  meta.go

DESCRIPTION
  meta.go provides functions for adding to, modifying and reading the
  tab-separated key=value metadata carried in PMT metadata descriptors, as
  well as its encoding and decoding.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package meta provides functions for adding to, modifying and reading
// metadata, as well as encoding and decoding functions.
package meta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// headSize is the size of the metadata header (reserved byte, version byte,
// 16-bit data length) preceding the encoded key=value string.
const headSize = 4

const (
	majVer = 1
	minVer = 0
)

const dataLenIdx = 2

var (
	errKeyAbsent            = errors.New("key does not exist in map")
	errInvalidMeta          = errors.New("invalid metadata given")
	ErrUnexpectedMetaFormat = errors.New("unexpected meta format")
)

// Data provides storage and encoding of metadata using an ordered map.
type Data struct {
	mu    sync.RWMutex
	data  map[string]string
	order []string
	enc   []byte
}

// New returns a new, empty Data.
func New() *Data {
	return &Data{
		data: make(map[string]string),
		enc: []byte{
			0x00,
			(majVer << 4) | minVer,
			0x00,
			0x00,
		},
	}
}

// NewWith creates a Data pre-filled from data; later duplicate keys
// overwrite earlier ones.
func NewWith(data [][2]string) *Data {
	m := New()
	m.order = make([]string, 0, len(data))
	for _, d := range data {
		if _, exists := m.data[d[0]]; !exists {
			m.order = append(m.order, d[0])
		}
		m.data[d[0]] = d[1]
	}
	return m
}

// NewFromMap creates a Data from a map; key ordering is unspecified.
func NewFromMap(data map[string]string) *Data {
	m := New()
	m.order = make([]string, 0, len(data))
	for k, v := range data {
		m.data[k] = v
		m.order = append(m.order, k)
	}
	return m
}

// Add adds or updates the metadata entry for key.
func (m *Data) Add(key, val string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	for _, k := range m.order {
		if k == key {
			return
		}
	}
	m.order = append(m.order, key)
}

// All returns a copy of the metadata map.
func (m *Data) All() map[string]string {
	m.mu.Lock()
	cpy := make(map[string]string)
	for k, v := range m.data {
		cpy[k] = v
	}
	m.mu.Unlock()
	return cpy
}

// Get returns the value for key.
func (m *Data) Get(key string) (val string, ok bool) {
	m.mu.Lock()
	val, ok = m.data[key]
	m.mu.Unlock()
	return
}

// Delete removes the entry for key, if present.
func (m *Data) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		for i, k := range m.order {
			if k == key {
				copy(m.order[i:], m.order[i+1:])
				m.order = m.order[:len(m.order)-1]
				break
			}
		}
	}
}

// Encode encodes the metadata map into a header-prefixed byte slice
// suitable for embedding in a PMT descriptor.
func (m *Data) Encode() []byte {
	if m.enc == nil {
		panic("meta: Data not initialized with New")
	}
	m.enc = m.enc[:headSize]

	var entry string
	for i, k := range m.order {
		v := m.data[k]
		entry += k + "=" + v
		if i+1 < len(m.data) {
			entry += "\t"
		}
	}
	m.enc = append(m.enc, []byte(entry)...)

	dataLen := len(m.enc[headSize:])
	binary.BigEndian.PutUint16(m.enc[dataLenIdx:dataLenIdx+2], uint16(dataLen))
	return m.enc
}

// EncodeAsString encodes the metadata map as a bare tab-separated
// key=value string, without the version/length header.
func (m *Data) EncodeAsString() string {
	var str string
	for i, k := range m.order {
		v := m.data[k]
		str += k + "=" + v
		if i+1 < len(m.data) {
			str += "\t"
		}
	}
	return str
}

// Keys returns all metadata keys present in encoded data d.
func Keys(d []byte) ([]string, error) {
	m, err := GetAll(d)
	if err != nil {
		return nil, err
	}
	k := make([]string, len(m))
	for i, kv := range m {
		k[i] = kv[0]
	}
	return k, nil
}

// Get returns the value for key from encoded data d.
func Get(key string, d []byte) (string, error) {
	if err := checkMeta(d); err != nil {
		return "", err
	}
	d = d[headSize:]
	entries := strings.Split(string(d), "\t")
	for _, entry := range entries {
		kv := strings.Split(entry, "=")
		if kv[0] == key {
			return kv[1], nil
		}
	}
	return "", errKeyAbsent
}

// GetAll returns all key/value pairs from encoded data d.
func GetAll(d []byte) ([][2]string, error) {
	if err := checkMeta(d); err != nil {
		return nil, err
	}
	d = d[headSize:]
	entries := strings.Split(string(d), "\t")
	all := make([][2]string, len(entries))
	for i, entry := range entries {
		kv := strings.Split(entry, "=")
		if len(kv) != 2 {
			return nil, ErrUnexpectedMetaFormat
		}
		copy(all[i][:], kv)
	}
	return all, nil
}

// GetAllAsMap returns all key/value pairs from encoded data d as a map.
func GetAllAsMap(d []byte) (map[string]string, error) {
	if err := checkMeta(d); err != nil {
		return nil, err
	}
	return GetAllFromString(string(d[headSize:]))
}

// GetAllFromString parses a bare (header-less) tab-separated key=value
// string into a map.
func GetAllFromString(s string) (map[string]string, error) {
	entries := strings.Split(s, "\t")
	all := make(map[string]string)
	for _, entry := range entries {
		kv := strings.Split(entry, "=")
		if len(kv) != 2 {
			return nil, fmt.Errorf("meta: malformed entry %q", entry)
		}
		all[kv[0]] = kv[1]
	}
	return all, nil
}

// checkMeta validates the reserved byte and declared data length of an
// encoded metadata header.
func checkMeta(d []byte) error {
	if len(d) < headSize || d[0] != 0 || binary.BigEndian.Uint16(d[dataLenIdx:headSize]) != uint16(len(d[headSize:])) {
		return errInvalidMeta
	}
	return nil
}
