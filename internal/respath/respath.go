// Package respath defines the identifier scheme for derived build artifacts.
//
// A resource path id names a source resource together with an ordered chain
// of transformations applied to it. The id with no transformations names the
// raw source resource; each appended transformation names the output of one
// compiler stage. Path ids are the unit of addressing for both compilation
// inputs and outputs and are used as cache and map keys throughout the build
// pipeline.
package respath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedPathID is returned when a path id string cannot be parsed.
var ErrMalformedPathID = errors.New("malformed resource path id")

// Guid uniquely identifies a source resource in source control.
type Guid = uuid.UUID

// Transform is the name of one compilation stage (e.g. "tex2bin").
//
// Transform names must not contain the '|' path separator or the '_' name
// separator.
type Transform string

// stage is one node of a transformation chain. Name optionally selects a
// specific compilation output at the node.
type stage struct {
	Kind Transform
	Name string
}

// ID identifies a resource in the build graph: a source resource plus an
// ordered chain of transformations. The zero value is not a valid id.
//
// IDs are immutable; Push and friends return modified copies.
type ID struct {
	source     Guid
	transforms []stage
}

// FromSource returns the id of the raw source resource.
func FromSource(source Guid) ID {
	return ID{source: source}
}

// Parse parses the string form of an id, as produced by String.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, "|")

	source, err := uuid.Parse(parts[0])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrMalformedPathID, s, err)
	}

	id := ID{source: source}
	for _, part := range parts[1:] {
		kind, name, _ := strings.Cut(part, "_")
		if kind == "" {
			return ID{}, fmt.Errorf("%w: %q: empty transform", ErrMalformedPathID, s)
		}

		id.transforms = append(id.transforms, stage{Kind: Transform(kind), Name: name})
	}

	return id, nil
}

// String renders the id as "<uuid>|<transform>|<transform>_<name>|...".
// The output round-trips through Parse.
func (id ID) String() string {
	var sb strings.Builder
	sb.WriteString(id.source.String())

	for _, t := range id.transforms {
		sb.WriteByte('|')
		sb.WriteString(string(t.Kind))

		if t.Name != "" {
			sb.WriteByte('_')
			sb.WriteString(t.Name)
		}
	}

	return sb.String()
}

// Push appends a transformation stage, returning the id of that stage's
// output. The receiver is not modified.
func (id ID) Push(kind Transform) ID {
	return id.push(stage{Kind: kind})
}

// PushNamed appends a transformation stage selecting the named compilation
// output of that stage.
func (id ID) PushNamed(kind Transform, name string) ID {
	return id.push(stage{Kind: kind, Name: name})
}

func (id ID) push(s stage) ID {
	transforms := make([]stage, len(id.transforms), len(id.transforms)+1)
	copy(transforms, id.transforms)

	return ID{source: id.source, transforms: append(transforms, s)}
}

// ToUnnamed strips the name part of the last stage. Compilers always compile
// their input as a whole, so cache entries are keyed by the unnamed form.
func (id ID) ToUnnamed() ID {
	if len(id.transforms) == 0 || id.transforms[len(id.transforms)-1].Name == "" {
		return id
	}

	transforms := make([]stage, len(id.transforms))
	copy(transforms, id.transforms)
	transforms[len(transforms)-1].Name = ""

	return ID{source: id.source, transforms: transforms}
}

// Name returns the name part of the last stage, if any.
func (id ID) Name() (string, bool) {
	if len(id.transforms) == 0 {
		return "", false
	}

	name := id.transforms[len(id.transforms)-1].Name

	return name, name != ""
}

// IsSource reports whether the id names a raw source resource, i.e. has no
// transformations attached.
func (id ID) IsSource() bool {
	return len(id.transforms) == 0
}

// SourceResource returns the guid of the chain's source resource.
func (id ID) SourceResource() Guid {
	return id.source
}

// SourcePath returns the id of the chain's raw source resource.
func (id ID) SourcePath() ID {
	return ID{source: id.source}
}

// LastTransform returns the transformation that produces this resource.
// ok is false for a source resource.
func (id ID) LastTransform() (Transform, bool) {
	if len(id.transforms) == 0 {
		return "", false
	}

	return id.transforms[len(id.transforms)-1].Kind, true
}

// PathDependency returns the id with the last transformation stripped: the
// canonical build dependency of any non-source id. ok is false for a source
// resource.
func (id ID) PathDependency() (ID, bool) {
	if len(id.transforms) == 0 {
		return ID{}, false
	}

	return ID{source: id.source, transforms: id.transforms[:len(id.transforms)-1]}, true
}

// Equal reports structural equality.
func (id ID) Equal(other ID) bool {
	if id.source != other.source || len(id.transforms) != len(other.transforms) {
		return false
	}

	for i := range id.transforms {
		if id.transforms[i] != other.transforms[i] {
			return false
		}
	}

	return true
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}
