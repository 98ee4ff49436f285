package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/tabvec/core"
	"gopkg.in/yaml.v3"
)

// Format is a config file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// decode unmarshals data in the given format into v.
func decode(data []byte, format Format, v any) error {
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, v)
	case FormatYAML:
		err = yaml.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return core.NewValidationError("config", "cannot parse %s: %v", format, err)
	}
	return nil
}

// Encode marshals v in the given format.
func Encode(v any, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		return toml.Marshal(v)
	case FormatYAML:
		return yaml.Marshal(v)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func readFile(path string, v any) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return decode(data, format, v)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// check runs struct tag validation and reports the first failure as a
// core.ValidationError naming the offending field.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return core.NewValidationError(fe.Namespace(), "failed %q rule (value %v)", fe.Tag(), fe.Value())
	}
	return core.NewValidationError("config", "%v", err)
}
