// Package schema implements the declarative schema validation tier
// (C5): a struct-tag fast path (github.com/go-playground/validator/v10)
// for the common scalar shapes every artifact kind shares (UUID v4,
// hex-64 hashes, required/min/max bounds, enums), followed by a
// JSON-Schema pass (github.com/santhosh-tekuri/jsonschema/v5) for the
// kinds whose structural shape is most naturally expressed declaratively,
// and finally the artifact package's own Validate() methods for
// cross-field refinements that neither generic engine can express.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"integritykernel.dev/kernel/kernelerr"
)

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

func getStructValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return structValidator
}

// ValidateStruct runs the struct-tag fast path over v (a pointer or
// value annotated with `validate:"..."` tags) and translates failures
// into kernelerr.Error values tagged with kind.
func ValidateStruct(kind string, v any) *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	if err := getStructValidator().Struct(v); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			me.Add(kernelerr.New(kernelerr.InternalValidatorError, err.Error()).WithArtifact(kind))
			return me
		}
		for _, fe := range verrs {
			me.Add(kernelerr.New(kernelerr.SchemaInvalid,
				fmt.Sprintf("field %q failed %q constraint", fe.Namespace(), fe.Tag())).
				WithArtifact(kind).WithField(fe.Namespace()))
		}
	}
	return me
}

// Registry holds compiled JSON schemas keyed by artifact kind, used
// for the kinds whose declarative shape is authored as JSON Schema
// rather than purely through Go struct tags.
type Registry struct {
	mu       sync.Mutex
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry constructs an empty registry; schemas are added with
// Register, which compiles each document as it is added.
func NewRegistry() *Registry {
	return &Registry{compiler: jsonschema.NewCompiler(), schemas: map[string]*jsonschema.Schema{}}
}

// Register adds a named JSON Schema document (as raw JSON bytes) for
// kind. Extension IDs in the pack MUST use reverse-domain notation
// (Design Notes); the registry does not enforce this itself but
// callers populating schemas from a config file should.
func (r *Registry) Register(kind, schemaJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	url := "mem://" + kind + ".json"
	if err := r.compiler.AddResource(url, bytes.NewReader([]byte(schemaJSON))); err != nil {
		return err
	}
	compiled, err := r.compiler.Compile(url)
	if err != nil {
		return err
	}
	r.schemas[kind] = compiled
	return nil
}

// Validate runs the compiled JSON Schema for kind (if any) against an
// arbitrary JSON-shaped value (map[string]any / []any / scalars).
// Kinds with no registered schema pass trivially — the struct-tag and
// Validate() tiers still apply.
func (r *Registry) Validate(kind string, value any) *kernelerr.MultiError {
	me := &kernelerr.MultiError{}
	r.mu.Lock()
	s, ok := r.schemas[kind]
	r.mu.Unlock()
	if !ok {
		return me
	}
	// jsonschema validates against the json.Unmarshal-produced value
	// shape (map[string]interface{}), so round-trip through json to
	// normalize Go struct field types into that shape.
	b, err := json.Marshal(value)
	if err != nil {
		me.Add(kernelerr.New(kernelerr.InternalValidatorError, err.Error()).WithArtifact(kind))
		return me
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		me.Add(kernelerr.New(kernelerr.InternalValidatorError, err.Error()).WithArtifact(kind))
		return me
	}
	if err := s.Validate(generic); err != nil {
		me.Add(kernelerr.New(kernelerr.SchemaInvalid, err.Error()).WithArtifact(kind))
	}
	return me
}

// SupportedMajor enforces the major-version pin described in §4.5: a
// schemaVersion of "2.x" is never accepted by a validator built for
// major version 1, regardless of minor/patch.
func SupportedMajor(schemaVersion string, supportedMajor string) bool {
	return len(schemaVersion) >= len(supportedMajor)+1 &&
		schemaVersion[:len(supportedMajor)] == supportedMajor &&
		schemaVersion[len(supportedMajor)] == '.'
}
