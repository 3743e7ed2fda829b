// Package bitfield provides functionality to pack and unpack struct fields into integers.
// This is a simplified version based on golang.org/x/text/internal/gen/bitfield
package bitfield

import (
	"fmt"
	"reflect"
	"strings"
)

// Config determines settings for packing and generation.
type Config struct {
	// NumBits is the maximum total number of bits Pack may use; Pack fails
	// if the tagged fields need more. Zero means no limit. Unpack does not
	// read it, and the packed value is always a uint64.
	NumBits uint

	// Package is not read by Pack or Unpack.
	Package string

	// TypeName is not read by Pack or Unpack.
	TypeName string
}

// Pack packs annotated bit ranges of struct x into an integer.
// Only fields that have a "bitfield" tag are compacted.
// Returns the packed value as uint64 and any error encountered.
func Pack(x interface{}, c *Config) (packed uint64, err error) {
	if c == nil {
		c = &Config{NumBits: 64}
	}

	v := reflect.ValueOf(x)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("Pack: expected struct, got %v", v.Kind())
	}

	t := v.Type()
	var bitOffset uint

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("bitfield")
		if tag == "" {
			continue // Skip fields without bitfield tag
		}

		// Parse tag: "methodName,bits" or just ",bits"
		var bits uint
		_, err := fmt.Sscanf(tag, ",%d", &bits)
		if err != nil {
			// Try with method name
			_, width, _ := strings.Cut(tag, ",")
			if _, err := fmt.Sscanf(width, "%d", &bits); err != nil {
				return 0, fmt.Errorf("Pack: invalid bitfield tag %q on field %s", tag, field.Name)
			}
		}

		if bits == 0 {
			continue
		}

		fieldValue := v.Field(i)
		var fieldBits uint64

		switch fieldValue.Kind() {
		case reflect.Bool:
			if fieldValue.Bool() {
				fieldBits = 1
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fieldBits = fieldValue.Uint()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			val := fieldValue.Int()
			if val < 0 {
				return 0, fmt.Errorf("Pack: negative value %d for field %s", val, field.Name)
			}
			fieldBits = uint64(val)
		default:
			return 0, fmt.Errorf("Pack: unsupported field type %v for field %s", fieldValue.Kind(), field.Name)
		}

		// Check if value fits in bits
		maxValue := uint64((1 << bits) - 1)
		if fieldBits > maxValue {
			return 0, fmt.Errorf("Pack: value %d exceeds %d bits for field %s", fieldBits, bits, field.Name)
		}

		// Pack into result
		packed |= (fieldBits << bitOffset)
		bitOffset += bits
	}

	// Check if total bits exceed target size
	if c.NumBits > 0 && bitOffset > c.NumBits {
		return 0, fmt.Errorf("Pack: total bits %d exceeds NumBits %d", bitOffset, c.NumBits)
	}

	return packed, nil
}

// Unpack distributes bit ranges of a packed integer back into the annotated
// fields of x, which must be a pointer to a struct. It is the inverse of Pack.
func Unpack(packed uint64, x interface{}, c *Config) error {
	if c == nil {
		c = &Config{NumBits: 64}
	}

	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("Unpack: expected pointer to struct, got %v", v.Kind())
	}
	v = v.Elem()
	t := v.Type()

	var bitOffset uint
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("bitfield")
		if tag == "" {
			continue
		}

		var bits uint
		_, err := fmt.Sscanf(tag, ",%d", &bits)
		if err != nil {
			_, width, _ := strings.Cut(tag, ",")
			if _, err := fmt.Sscanf(width, "%d", &bits); err != nil {
				return fmt.Errorf("Unpack: invalid bitfield tag %q on field %s", tag, field.Name)
			}
		}
		if bits == 0 {
			continue
		}

		mask := uint64((1 << bits) - 1)
		fieldBits := (packed >> bitOffset) & mask
		fieldValue := v.Field(i)

		switch fieldValue.Kind() {
		case reflect.Bool:
			fieldValue.SetBool(fieldBits != 0)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fieldValue.SetUint(fieldBits)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fieldValue.SetInt(int64(fieldBits))
		default:
			return fmt.Errorf("Unpack: unsupported field type %v for field %s", fieldValue.Kind(), field.Name)
		}

		bitOffset += bits
	}

	return nil
}
