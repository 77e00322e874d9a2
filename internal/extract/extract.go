// Package extract turns heterogeneous generation responses into plain text.
//
// Generation backends answer with a bare string, a wrapper object carrying
// the text in one of several fields, a list of either, or nothing at all.
// String collapses all of these into one string and never fails.
package extract

import (
	"fmt"
)

// Kind discriminates a Response.
type Kind int

const (
	// Empty is the zero Kind: no response at all.
	Empty Kind = iota
	// Text is a bare string response.
	Text
	// Wrapped is an object carrying the text in one of its fields.
	Wrapped
	// List is an ordered sequence of responses.
	List
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Text:
		return "text"
	case Wrapped:
		return "wrapped"
	case List:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Wrapper is a result object. Fields are consulted in declaration order;
// nil means the field is absent.
type Wrapper struct {
	RawOutput any
	Output    any
	Result    any
	Value     any
}

// Response is a tagged union over the shapes a generation call can return.
// The zero value is an Empty response.
type Response struct {
	kind    Kind
	text    string
	wrapper Wrapper
	items   []Response
}

// None returns an Empty response.
func None() Response { return Response{} }

// FromText returns a Text response.
func FromText(s string) Response { return Response{kind: Text, text: s} }

// FromWrapper returns a Wrapped response.
func FromWrapper(w Wrapper) Response { return Response{kind: Wrapped, wrapper: w} }

// FromList returns a List response.
func FromList(items ...Response) Response {
	return Response{kind: List, items: items}
}

// Kind returns the response's discriminator.
func (r Response) Kind() Kind { return r.kind }

// Len returns the number of list items, or 0 for non-list responses.
func (r Response) Len() int { return len(r.items) }

// String applies the extraction policy to r.
func (r Response) String() string { return String(r) }

// String extracts the text carried by r:
//
//	Empty             -> ""
//	List              -> String(first item), or "" when the list is empty
//	Wrapped           -> first non-nil of RawOutput, Output, Result, else Value, stringified
//	Text              -> the text
func String(r Response) string {
	switch r.kind {
	case Text:
		return r.text
	case List:
		if len(r.items) == 0 {
			return ""
		}
		return String(r.items[0])
	case Wrapped:
		w := r.wrapper
		switch {
		case w.RawOutput != nil:
			return stringify(w.RawOutput)
		case w.Output != nil:
			return stringify(w.Output)
		case w.Result != nil:
			return stringify(w.Result)
		default:
			return stringify(w.Value)
		}
	default:
		return ""
	}
}

// FromValue normalizes a loosely typed payload into a Response.
//
// Maps with raw_output, output or result keys become Wrapped responses,
// slices become List responses, and anything else is Text via fmt.
func FromValue(v any) Response {
	switch x := v.(type) {
	case nil:
		return None()
	case Response:
		return x
	case string:
		return FromText(x)
	case []string:
		items := make([]Response, len(x))
		for i, s := range x {
			items[i] = FromText(s)
		}
		return FromList(items...)
	case []any:
		items := make([]Response, len(x))
		for i, e := range x {
			items[i] = FromValue(e)
		}
		return FromList(items...)
	case map[string]any:
		return FromWrapper(Wrapper{
			RawOutput: x["raw_output"],
			Output:    x["output"],
			Result:    x["result"],
			Value:     x,
		})
	default:
		return FromText(stringify(x))
	}
}

// stringify renders a field value. Nested responses are extracted, strings
// pass through and everything else goes through fmt.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case Response:
		return String(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
