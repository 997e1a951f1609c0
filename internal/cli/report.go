package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/handleprobe/internal/probe"
)

// ErrUnknownFormat is returned for report formats other than json and yaml.
var ErrUnknownFormat = errors.New("unknown report format")

// Report formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// reportFormat picks the format for path. An explicit format wins; otherwise
// a .yaml or .yml extension selects YAML and everything else JSON.
func reportFormat(path, explicit string) (string, error) {
	switch strings.ToLower(explicit) {
	case formatJSON:
		return formatJSON, nil
	case formatYAML, "yml":
		return formatYAML, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, explicit)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return formatJSON, nil
	}
}

func encodeReport(r *probe.Report, format string) ([]byte, error) {
	switch format {
	case formatYAML:
		var buf bytes.Buffer

		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)

		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encoding report: %w", err)
		}

		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding report: %w", err)
		}

		return buf.Bytes(), nil
	case formatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding report: %w", err)
		}

		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// writeReport writes r to path atomically, so a reader never sees a
// partially written report.
func writeReport(r *probe.Report, path, format string) error {
	data, err := encodeReport(r, format)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}

	return nil
}
