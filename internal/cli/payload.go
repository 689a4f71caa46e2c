package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// loadPayloads builds request bodies from a YAML or JSON file, which may hold
// several documents, and then applies every key=value assignment to each of
// them. Without a file a single body is built from the assignments alone.
func loadPayloads(file string, sets []string, tctx TemplateContext) ([]json.RawMessage, error) {
	var payloads []json.RawMessage
	if file != "" {
		data, err := readPayloadFile(file)
		if err != nil {
			return nil, err
		}
		data = replaceTabsWithSpaces(data)
		data, err = PreprocessTemplate(data, tctx)
		if err != nil {
			return nil, err
		}
		docs, err := ParseMultiYAMLFromBytes(data)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			b, err := json.Marshal(doc)
			if err != nil {
				return nil, fmt.Errorf("unable to convert to JSON: %v", err)
			}
			payloads = append(payloads, b)
		}
		if len(payloads) == 0 {
			return nil, fmt.Errorf("%s contains no documents", file)
		}
	} else {
		payloads = []json.RawMessage{json.RawMessage(`{}`)}
	}

	for i := range payloads {
		var err error
		payloads[i], err = applySets(payloads[i], sets)
		if err != nil {
			return nil, err
		}
	}
	if file == "" && len(sets) == 0 {
		return nil, errors.New("no payload given; use -f FILE or --set key=value")
	}
	return payloads, nil
}

func readPayloadFile(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}
	return data, nil
}

// applySets writes each key=value into body. Keys are sjson paths; values
// that are JSON literals (numbers, booleans, null, objects, arrays) are
// written raw, anything else as a string.
func applySets(body []byte, sets []string) ([]byte, error) {
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q; expected key=value", s)
		}
		var err error
		if isJSONLiteral(value) {
			body, err = sjson.SetRawBytes(body, key, []byte(value))
		} else {
			body, err = sjson.SetBytes(body, key, value)
		}
		if err != nil {
			return nil, fmt.Errorf("unable to set %s: %v", key, err)
		}
	}
	return body, nil
}

func isJSONLiteral(v string) bool {
	if !gjson.Valid(v) {
		return false
	}
	switch gjson.Parse(v).Type {
	case gjson.String:
		return strings.HasPrefix(strings.TrimSpace(v), `"`)
	default:
		return true
	}
}

// ParseMultiYAMLFromBytes parses byte data containing multiple YAML documents.
// JSON documents are accepted as YAML.
func ParseMultiYAMLFromBytes(data []byte) ([]map[string]any, error) {
	content := strings.TrimSpace(string(data))
	if len(content) == 0 || strings.Trim(content, "- \n\t") == "" {
		return []map[string]any{}, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var result []map[string]any
	for {
		var doc map[string]any
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode YAML: %w", err)
		}
		// trailing --- yields empty documents
		if len(doc) > 0 {
			result = append(result, doc)
		}
	}
	return result, nil
}

// replaceTabsWithSpaces replaces all tab characters with four spaces
func replaceTabsWithSpaces(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\t"), []byte("    "))
}
