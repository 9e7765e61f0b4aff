package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"schemaevo/internal/domain"
)

// FileSourceType is the registry key of the schema document reader.
const FileSourceType = "file"

// FileExtractor reads a schema document from disk.
type FileExtractor struct {
	path string
}

// NewFileExtractor builds a FileExtractor. The source needs a "path" option.
func NewFileExtractor(src Source) (Extractor, error) {
	path := src.Options["path"]
	if path == "" {
		return nil, domain.ErrValidation("file source %q requires a path option", src.DatasetID)
	}
	return &FileExtractor{path: path}, nil
}

// Extract reads and parses the document.
func (f *FileExtractor) Extract(ctx context.Context) (domain.Schema, error) {
	if err := ctx.Err(); err != nil {
		return domain.Schema{}, err
	}
	return ReadSchemaFile(f.path)
}

// ReadSchemaFile parses a JSON or YAML schema document.
func ReadSchemaFile(path string) (domain.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Schema{}, fmt.Errorf("read schema file: %w", err)
	}
	return ParseSchemaDocument(data)
}

// ParseSchemaDocument accepts either a bare schema ({"fields": [...]}) or a
// snapshot-shaped document with the schema under "schema". YAML is decoded to
// a generic tree and re-encoded as JSON so the JSON field names stay the only
// wire vocabulary.
func ParseSchemaDocument(data []byte) (domain.Schema, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return domain.Schema{}, domain.ErrMalformed("", "document is neither JSON nor YAML: %v", err)
	}
	doc, ok := tree.(map[string]any)
	if !ok {
		return domain.Schema{}, domain.ErrMalformed("", "document must be an object")
	}
	if inner, ok := doc["schema"]; ok {
		doc, ok = inner.(map[string]any)
		if !ok {
			return domain.Schema{}, domain.ErrMalformed("schema", "must be an object")
		}
	}
	if _, ok := doc["fields"]; !ok {
		return domain.Schema{}, domain.ErrMalformed("fields", "document has no fields")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.Schema{}, domain.ErrMalformed("", "document cannot be represented as JSON: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s domain.Schema
	if err := dec.Decode(&s); err != nil {
		return domain.Schema{}, domain.ErrMalformed("", "%v", err)
	}
	return s, nil
}
