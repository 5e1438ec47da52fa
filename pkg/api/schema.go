package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaAgent              = "agent"
	schemaEvent              = "event"
	schemaTransaction        = "transaction"
	schemaTrustSubmission    = "trust_submission"
	schemaRiskReport         = "risk_report"
	schemaPropagate          = "propagate"
	schemaEscalationResponse = "escalation_response"
	schemaLiveMessage        = "live_message"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

// schemaSet holds the compiled request schemas by name.
type schemaSet map[string]*jsonschema.Schema

func compileSchemas() (schemaSet, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	urls := make(map[string]string, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		url := fmt.Sprintf("https://supply-chainer.dev/schemas/%s.schema.json", name)
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
		urls[name] = url
	}
	set := make(schemaSet, len(urls))
	for name, url := range urls {
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
		}
		set[name] = s
	}
	return set, nil
}

// decode reads the request body, validates it against the named schema and
// unmarshals it into dst. dst may carry defaults; absent fields keep them.
func (s schemaSet) decode(w http.ResponseWriter, r *http.Request, name string, dst any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if schema, ok := s[name]; ok {
		if err := schema.Validate(doc); err != nil {
			var ve *jsonschema.ValidationError
			if errors.As(err, &ve) {
				return fmt.Errorf("%w: %s", errBadBody, validationDetail(ve))
			}
			return fmt.Errorf("%w: %v", errBadBody, err)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// validationDetail flattens the innermost causes into one line.
func validationDetail(ve *jsonschema.ValidationError) string {
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
