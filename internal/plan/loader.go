package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const maxPlanFileSize = 4 * 1024 * 1024 // 4MB

// Format identifies a plan file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned when a plan file extension is not supported.
var ErrUnknownFormat = errors.New("unknown plan format")

// FormatFromPath infers the plan format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Load reads and decodes a plan file. It does not run Preflight.
func Load(path string) (Plan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return Plan{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPlanFileSize+1))
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read plan file: %w", err)
	}
	if len(data) > maxPlanFileSize {
		return Plan{}, fmt.Errorf("plan file too large (max %d bytes)", maxPlanFileSize)
	}

	p, err := Parse(data, format)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse decodes a plan from raw bytes.
func Parse(data []byte, format Format) (Plan, error) {
	var p Plan
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Plan{}, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &p); err != nil {
			return Plan{}, fmt.Errorf("decode toml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Plan{}, fmt.Errorf("decode json: %w", err)
		}
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return p, nil
}
