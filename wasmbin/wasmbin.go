package wasmbin

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01

	// headerSize is the byte length of the magic plus version prefix.
	headerSize = 8

	// sectionCustom is the section ID of custom sections.
	sectionCustom byte = 0
)

// ContractSection is the name of the custom section that carries a
// component's interface contract text.
const ContractSection = "component-contract"

// Inspection errors.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrTruncated      = errors.New("truncated wasm binary")
	ErrNoSection      = errors.New("custom section not present")
)

// IsModule reports whether data begins with a valid core wasm module header.
func IsModule(data []byte) bool {
	return validateHeader(data) == nil
}

func validateHeader(data []byte) error {
	if len(data) < headerSize {
		return ErrTruncated
	}
	if binary.LittleEndian.Uint32(data) != Magic {
		return ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:]) != Version {
		return ErrInvalidVersion
	}
	return nil
}

// CustomSection returns the payload of the first custom section named name.
// It validates the header and walks the section framing without decoding
// section contents. The returned slice aliases data.
func CustomSection(data []byte, name string) ([]byte, error) {
	if err := validateHeader(data); err != nil {
		return nil, err
	}

	pos := headerSize
	for pos < len(data) {
		id := data[pos]
		pos++

		size, n, err := readU32(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		pos += n

		if int(size) > len(data)-pos {
			return nil, ErrTruncated
		}
		body := data[pos : pos+int(size)]
		pos += int(size)

		if id != sectionCustom {
			continue
		}

		nameLen, n, err := readU32(body)
		if err != nil {
			return nil, fmt.Errorf("custom section name: %w", err)
		}
		body = body[n:]
		if int(nameLen) > len(body) {
			return nil, ErrTruncated
		}
		if string(body[:nameLen]) == name {
			return body[nameLen:], nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNoSection, name)
}

// Contract extracts the interface contract text embedded in a component
// binary, or ErrNoSection when the binary carries none.
func Contract(data []byte) (string, error) {
	payload, err := CustomSection(data, ContractSection)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// ErrOverflow is returned when a LEB128 value exceeds 32 bits.
var ErrOverflow = errors.New("leb128: overflow")

// readU32 decodes an unsigned LEB128 value from the front of b and returns
// the value and the number of bytes consumed.
func readU32(b []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i, c := range b {
		result |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, ErrTruncated
}

// AppendCustomSection appends a custom section with the given name and
// payload to a wasm binary. The input must already be a valid module;
// custom sections may appear after any other section.
func AppendCustomSection(data []byte, name string, payload []byte) ([]byte, error) {
	if err := validateHeader(data); err != nil {
		return nil, err
	}

	var body []byte
	body = appendU32(body, uint32(len(name)))
	body = append(body, name...)
	body = append(body, payload...)

	out := make([]byte, 0, len(data)+len(body)+8)
	out = append(out, data...)
	out = append(out, sectionCustom)
	out = appendU32(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

// appendU32 appends v in unsigned LEB128 encoding.
func appendU32(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// EmptyModule returns a minimal valid core wasm module consisting of just
// the binary header. Useful as a base for building synthetic test binaries.
func EmptyModule() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(b, Magic)
	binary.LittleEndian.PutUint32(b[4:], Version)
	return b
}
