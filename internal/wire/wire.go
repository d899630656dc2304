// Package wire implements the typed field codec described in the wire
// protocol's framing layer: big-endian 1/2/4-byte integers and
// length-prefixed strings, read and written through a tiny format
// grammar ("%1i %2i %4i %s") modeled on writef/readf.
package wire

import (
	"errors"
	"fmt"
	"io"
)

// ErrProtocol is returned for any malformed frame: a literal byte that
// doesn't match, a truncated integer, or an unsupported format verb.
var ErrProtocol = errors.New("wire: bad protocol")

// Writef writes args to w according to format, a sequence of literal bytes
// and field specifiers. Specifiers: %1i, %2i, %4i take a uint32 argument
// (truncated to the field width on write), %s takes a string. Literal
// bytes in format (anything not starting with %) are written verbatim.
func Writef(w io.Writer, format string, args ...any) error {
	buf, err := appendf(nil, format, args...)
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	_, err = w.Write(buf)
	return err
}

// Encode is the sibling of Writef that returns the encoded bytes instead
// of writing them, for callers that need to size a single outbound message.
func Encode(format string, args ...any) ([]byte, error) {
	return appendf(nil, format, args...)
}

func appendf(buf []byte, format string, args ...any) ([]byte, error) {
	argi := 0
	next := func() (any, error) {
		if argi >= len(args) {
			return nil, fmt.Errorf("%w: too few arguments for format %q", ErrProtocol, format)
		}
		a := args[argi]
		argi++
		return a, nil
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			buf = append(buf, c)
			i++
			continue
		}
		i++
		if i >= len(format) {
			return nil, fmt.Errorf("%w: dangling %% in format %q", ErrProtocol, format)
		}
		if format[i] == '%' {
			buf = append(buf, '%')
			i++
			continue
		}
		width := 0
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			width = width*10 + int(format[i]-'0')
			i++
		}
		if i >= len(format) {
			return nil, fmt.Errorf("%w: missing verb in format %q", ErrProtocol, format)
		}
		verb := format[i]
		i++

		switch verb {
		case 'i':
			arg, err := next()
			if err != nil {
				return nil, err
			}
			v, ok := toUint32(arg)
			if !ok {
				return nil, fmt.Errorf("%w: %%%di argument is not an integer", ErrProtocol, width)
			}
			switch width {
			case 1:
				buf = append(buf, byte(v))
			case 2:
				buf = append(buf, byte(v>>8), byte(v))
			case 4:
				buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
			default:
				return nil, fmt.Errorf("%w: invalid integer width %%%di", ErrProtocol, width)
			}
		case 's':
			arg, err := next()
			if err != nil {
				return nil, err
			}
			var s string
			switch v := arg.(type) {
			case string:
				s = v
			case []byte:
				s = string(v)
			default:
				return nil, fmt.Errorf("%w: %%s argument is not a string", ErrProtocol)
			}
			n := uint32(len(s))
			buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
			buf = append(buf, s...)
		default:
			return nil, fmt.Errorf("%w: unknown verb %%%c", ErrProtocol, verb)
		}
	}
	return buf, nil
}

func toUint32(arg any) (uint32, bool) {
	switch v := arg.(type) {
	case uint32:
		return v, true
	case uint16:
		return uint32(v), true
	case uint8:
		return uint32(v), true
	case int:
		return uint32(v), true
	}
	return 0, false
}

// Readf reads from r according to format, matching literal bytes exactly
// and decoding field specifiers into the pointer arguments. %1i/%2i/%4i
// take *uint32, %s takes *string. Returns ErrProtocol (wrapped) on a
// literal mismatch, a truncated read, or an unsupported verb; io.EOF is
// returned unwrapped when the stream is closed before any bytes of this
// call were consumed, matching "treat stream as closed" in the framing
// rule.
func Readf(r io.Reader, format string, args ...any) error {
	argi := 0
	next := func() (any, error) {
		if argi >= len(args) {
			return nil, fmt.Errorf("%w: too few arguments for format %q", ErrProtocol, format)
		}
		a := args[argi]
		argi++
		return a, nil
	}

	first := true
	readExact := func(n int) ([]byte, error) {
		b := make([]byte, n)
		_, err := io.ReadFull(r, b)
		if err != nil {
			if errors.Is(err, io.EOF) && first {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return b, nil
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			b, err := readExact(1)
			if err != nil {
				return err
			}
			if b[0] != c {
				return fmt.Errorf("%w: literal mismatch, want %q got %q", ErrProtocol, c, b[0])
			}
			i++
			first = false
			continue
		}
		i++
		if i >= len(format) {
			return fmt.Errorf("%w: dangling %% in format %q", ErrProtocol, format)
		}
		if format[i] == '%' {
			b, err := readExact(1)
			if err != nil {
				return err
			}
			if b[0] != '%' {
				return fmt.Errorf("%w: literal mismatch on %%", ErrProtocol)
			}
			i++
			first = false
			continue
		}
		width := 0
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			width = width*10 + int(format[i]-'0')
			i++
		}
		if i >= len(format) {
			return fmt.Errorf("%w: missing verb in format %q", ErrProtocol, format)
		}
		verb := format[i]
		i++

		switch verb {
		case 'i':
			if width != 1 && width != 2 && width != 4 {
				return fmt.Errorf("%w: invalid integer width %%%di", ErrProtocol, width)
			}
			b, err := readExact(width)
			if err != nil {
				if errors.Is(err, io.EOF) && first {
					return io.EOF
				}
				return err
			}
			var v uint32
			for _, by := range b {
				v = v<<8 | uint32(by)
			}
			arg, err := next()
			if err != nil {
				return err
			}
			dst, ok := arg.(*uint32)
			if !ok {
				return fmt.Errorf("%w: %%%di destination is not *uint32", ErrProtocol, width)
			}
			*dst = v
		case 's':
			lb, err := readExact(4)
			if err != nil {
				if errors.Is(err, io.EOF) && first {
					return io.EOF
				}
				return err
			}
			length := uint32(lb[0])<<24 | uint32(lb[1])<<16 | uint32(lb[2])<<8 | uint32(lb[3])
			data, err := readExact(int(length))
			if err != nil {
				return err
			}
			arg, err := next()
			if err != nil {
				return err
			}
			dst, ok := arg.(*string)
			if !ok {
				return fmt.Errorf("%w: %%s destination is not *string", ErrProtocol)
			}
			*dst = string(data)
		default:
			return fmt.Errorf("%w: unknown verb %%%c", ErrProtocol, verb)
		}
		first = false
	}
	return nil
}
