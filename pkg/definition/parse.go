package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/followup/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDocument = errors.New("invalid workflow document")

// Format is the encoding of an authored document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parser validates documents against the workflow schema before decoding them.
type Parser struct {
	schema   *gojsonschema.Schema
	validate *validator.Validate
}

func NewParser() (*Parser, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(Schema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow schema: %w", err)
	}

	return &Parser{
		schema:   schema,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Parse decodes and validates one workflow document.
func (p *Parser) Parse(data []byte, format Format) (*models.WorkflowDefinition, error) {
	var document any

	switch format {
	case FormatYAML:
		err := yaml.Unmarshal(data, &document)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}

		data, err = json.Marshal(document)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
	default:
		err := json.Unmarshal(data, &document)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
	}

	err := p.ValidateDocument(document)
	if err != nil {
		return nil, err
	}

	var workflow models.WorkflowDefinition

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	err = p.validate.Struct(&workflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &workflow, nil
}

// ValidateDocument checks a decoded document against the workflow JSON schema.
func (p *Parser) ValidateDocument(document any) error {
	result, err := p.schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(details, "; "))
	}

	return nil
}

// ParseFile reads and parses a workflow file.
func (p *Parser) ParseFile(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	workflow, err := p.Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return workflow, nil
}

// ParseDir parses every .json, .yaml and .yml file in dir, sorted by name.
func (p *Parser) ParseDir(dir string) ([]*models.WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}

		workflow, err := p.ParseFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
