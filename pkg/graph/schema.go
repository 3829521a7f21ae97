package graph

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

// documentSchema constrains current-version workspace documents before
// they are decoded, so a malformed document fails with a field-level
// message instead of a half-decoded workspace.
const documentSchema = `
#Instance: {
	id:        int & >0
	kind:      string & !=""
	priority?: int
	variables?: {...}
}

#Connection: {
	from_instance: int & >0
	from_port:     string & !=""
	to_instance:   int & >0
	to_port:       string & !=""
	delay?:        bool
}

schema_version: 2
name:           string & !=""
description?:   string
settings: {
	period_us:   int & >0
	period_unit: "ns" | "us" | "ms" | "s"
}
instances: [...#Instance]
connections: [...#Connection]
`

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaErr   error
)

func compiledSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		v := cuecontext.New().CompileString(documentSchema)
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile workspace schema: %w", err)
			return
		}
		schemaValue = v
	})
	return schemaValue, schemaErr
}

// ValidateDocument checks raw document bytes against the embedded CUE
// schema.
func ValidateDocument(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := cuejson.Validate(data, schema); err != nil {
		return fmt.Errorf("workspace document: %w", err)
	}
	return nil
}
