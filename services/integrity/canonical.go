// Package integrity hashes and signs audit artifacts over a canonical JSON
// form and verifies stored artifacts against their trailer.
package integrity

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrNonStringMapKey = errors.New("map keys must be strings")
	ErrUnsupportedType = errors.New("unsupported type for canonicalization")
	ErrInvalidNumber   = errors.New("invalid number for canonicalization")
	ErrNotObject       = errors.New("artifact must be a JSON object")
)

const hexDigits = "0123456789abcdef"

// Canonicalize encodes v with sorted keys, no insignificant whitespace and
// ASCII-only output. Times are written in ISO-8601 with a numeric UTC offset
// wherever they appear, struct fields included. Struct fields follow their
// json tags. Floats keep a fractional part ("1.0") and switch to exponent
// form outside 1e-4 <= |f| < 1e16.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FormatTime renders t the way canonical documents carry timestamps
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000000") + "+00:00"
	}
	return t.Format("2006-01-02T15:04:05") + "+00:00"
}

type mapEntry struct {
	key   string
	value any
}

var timeType = reflect.TypeOf(time.Time{})

func writeValue(buf *bytes.Buffer, v any) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}

	switch value := v.(type) {
	case json.Number:
		return writeJSONNumber(buf, value)
	case json.RawMessage:
		return writeJSON(buf, value)
	case time.Time:
		writeString(buf, FormatTime(value))
		return nil
	case *time.Time:
		if value == nil {
			buf.WriteString("null")
			return nil
		}
		writeString(buf, FormatTime(*value))
		return nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Type() == timeType {
		writeString(buf, FormatTime(rv.Interface().(time.Time)))
		return nil
	}
	if _, ok := rv.Interface().(json.Marshaler); ok {
		return writeMarshaled(buf, rv.Interface())
	}
	if tm, ok := rv.Interface().(encoding.TextMarshaler); ok {
		text, err := tm.MarshalText()
		if err != nil {
			return err
		}
		writeString(buf, string(text))
		return nil
	}

	switch rv.Kind() {
	case reflect.String:
		writeString(buf, rv.String())
		return nil
	case reflect.Bool:
		if rv.Bool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return writeFloat(buf, rv.Float(), rv.Type().Bits())
	case reflect.Map:
		return writeMap(buf, rv)
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// []byte follows encoding/json and becomes base64 text
			return writeMarshaled(buf, rv.Interface())
		}
		return writeSlice(buf, rv)
	case reflect.Array:
		return writeSlice(buf, rv)
	case reflect.Struct:
		return writeStruct(buf, rv)
	default:
		return ErrUnsupportedType
	}
}

// writeMarshaled re-reads the value's JSON form and writes it canonically
func writeMarshaled(buf *bytes.Buffer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeJSON(buf, raw)
}

func writeJSON(buf *bytes.Buffer, raw []byte) error {
	decoded, err := Decode(raw)
	if err != nil {
		return err
	}
	return writeValue(buf, decoded)
}

func writeFloat(buf *bytes.Buffer, f float64, bits int) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrInvalidNumber
	}
	buf.WriteString(formatFloat(f, bits))
	return nil
}

// formatFloat writes the shortest round-tripping digits. The decimal point
// position picks fixed or exponent notation; fixed output always carries a
// fractional part.
func formatFloat(f float64, bits int) string {
	sci := strconv.FormatFloat(f, 'e', -1, bits)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil {
		return sci
	}
	if point := exp + 1; point <= -4 || point > 16 {
		return sci
	}
	fixed := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.ContainsRune(fixed, '.') {
		fixed += ".0"
	}
	return fixed
}

// writeJSONNumber keeps the literal so a decoded document hashes the same
// bytes it was sealed with.
func writeJSONNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if s == "" || !json.Valid([]byte(s)) {
		return ErrInvalidNumber
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return ErrInvalidNumber
	}
	buf.WriteString(s)
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r <= 0x7e:
				buf.WriteByte(byte(r))
			case r > 0xffff:
				r -= 0x10000
				writeUnicodeEscape(buf, 0xd800+(r>>10))
				writeUnicodeEscape(buf, 0xdc00+(r&0x3ff))
			default:
				writeUnicodeEscape(buf, r)
			}
		}
	}
	buf.WriteByte('"')
}

func writeUnicodeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xf])
	buf.WriteByte(hexDigits[(r>>8)&0xf])
	buf.WriteByte(hexDigits[(r>>4)&0xf])
	buf.WriteByte(hexDigits[r&0xf])
}

func writeMap(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.IsNil() {
		buf.WriteString("null")
		return nil
	}
	if rv.Type().Key().Kind() != reflect.String {
		return ErrNonStringMapKey
	}

	entries := make([]mapEntry, 0, rv.Len())
	for _, key := range rv.MapKeys() {
		entries = append(entries, mapEntry{key: key.String(), value: rv.MapIndex(key).Interface()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	buf.WriteByte('{')
	for i, entry := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, entry.key)
		buf.WriteByte(':')
		if err := writeValue(buf, entry.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeStruct encodes exported fields under their json names. Fields declared
// directly on a struct win over fields promoted from an embedded one.
func writeStruct(buf *bytes.Buffer, rv reflect.Value) error {
	var entries []mapEntry
	collectFields(rv, map[string]struct{}{}, &entries)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	buf.WriteByte('{')
	for i, entry := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, entry.key)
		buf.WriteByte(':')
		if err := writeValue(buf, entry.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func collectFields(rv reflect.Value, seen map[string]struct{}, entries *[]mapEntry) {
	rt := rv.Type()
	var embedded []reflect.Value
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}

		if name == "" {
			name = sf.Name
		}
		if _, dup := seen[name]; dup {
			continue
		}
		if hasOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		seen[name] = struct{}{}
		*entries = append(*entries, mapEntry{key: name, value: fv.Interface()})
	}
	for _, ev := range embedded {
		collectFields(ev, seen, entries)
	}
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

// isEmptyValue matches encoding/json's omitempty rule
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

func writeSlice(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		buf.WriteString("null")
		return nil
	}

	buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// Decode parses JSON keeping number literals intact
func Decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON value")
	}
	return out, nil
}

// DecodeDocument parses a stored artifact, which must be a JSON object
func DecodeDocument(raw []byte) (map[string]any, error) {
	decoded, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return doc, nil
}
