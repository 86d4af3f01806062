package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/sadopc/jsonrel/internal/model"
)

// ErrParse marks malformed input.
var ErrParse = errors.New("malformed json")

// SyntaxError reports malformed input at a byte offset of the decoded stream.
type SyntaxError struct {
	Offset int64
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed json at offset %d: %v", e.Offset, e.Err)
}

func (e *SyntaxError) Unwrap() []error { return []error{ErrParse, e.Err} }

// Handler receives tokenizer events in document order. Value is a scalar
// under an object key; Element is a scalar directly inside an array.
type Handler interface {
	DocStart() error
	DocEnd() error
	Key(name string) error
	Value(v model.Value) error
	Element(v model.Value) error
	ArrayStart() error
	ArrayEnd() error
	ObjectStart() error
	ObjectEnd() error
}

// Decode wraps r so that it yields UTF-8 text from the named IANA encoding.
func Decode(r io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil {
		return nil, fmt.Errorf("parser encoding %q: %w", charset, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("parser encoding %q: unsupported", charset)
	}
	if enc == encoding.Nop {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

type container struct {
	array     bool
	expectKey bool
}

// Tokenize reads exactly one JSON object or array from r and reports it to h.
func Tokenize(r io.Reader, h Handler) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var stack []container
	started := false
	wrap := func(err error) error {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			return &SyntaxError{Offset: se.Offset, Err: err}
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return &SyntaxError{Offset: dec.InputOffset(), Err: io.ErrUnexpectedEOF}
		}
		return err
	}
	// valueDone flips the enclosing object back to expecting a key.
	valueDone := func() {
		if n := len(stack); n > 0 && !stack[n-1].array {
			stack[n-1].expectKey = true
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF && started && len(stack) == 0 {
			return nil
		}
		if err != nil {
			return wrap(err)
		}
		if started && len(stack) == 0 {
			return &SyntaxError{Offset: dec.InputOffset(), Err: errors.New("trailing data after document")}
		}
		if !started {
			if _, ok := tok.(json.Delim); !ok {
				return &SyntaxError{Offset: dec.InputOffset(), Err: errors.New("document root must be an object or array")}
			}
			started = true
			if err := h.DocStart(); err != nil {
				return err
			}
		}

		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{':
				stack = append(stack, container{expectKey: true})
				err = h.ObjectStart()
			case '[':
				stack = append(stack, container{array: true})
				err = h.ArrayStart()
			case '}':
				stack = stack[:len(stack)-1]
				err = h.ObjectEnd()
				valueDone()
			case ']':
				stack = stack[:len(stack)-1]
				err = h.ArrayEnd()
				valueDone()
			}
			if err != nil {
				return err
			}
			if len(stack) == 0 {
				if err := h.DocEnd(); err != nil {
					return err
				}
			}
			continue
		}

		top := &stack[len(stack)-1]
		if !top.array && top.expectKey {
			top.expectKey = false
			if err := h.Key(tok.(string)); err != nil {
				return err
			}
			continue
		}

		v := scalar(tok)
		if top.array {
			err = h.Element(v)
		} else {
			err = h.Value(v)
			top.expectKey = true
		}
		if err != nil {
			return err
		}
	}
}

func scalar(tok json.Token) model.Value {
	switch t := tok.(type) {
	case string:
		return model.String(t)
	case json.Number:
		return model.Number(t.String())
	case bool:
		return model.Bool(t)
	default:
		return model.Null()
	}
}
