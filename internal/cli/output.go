package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"sigs.k8s.io/yaml"
)

// printJSON prints the given value as indented JSON to the command's output
func printJSON(cmd *cobra.Command, data any) {
	jsonData, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		errorLabel.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
}

// printResult prints a backend response. With -j the response is wrapped as
// {"result": 1, "value": ...}; with -y it is rendered as YAML; otherwise
// arrays of objects become a table and objects a list of fields.
func printResult(cmd *cobra.Command, title string, data []byte) error {
	if len(data) == 0 {
		data = []byte("null")
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("server returned malformed JSON")
	}
	out := cmd.OutOrStdout()

	switch {
	case jsonOutput:
		printJSON(cmd, map[string]any{
			"result": 1,
			"value":  json.RawMessage(data),
		})
		return nil
	case yamlOutput:
		yamlBytes, err := yaml.JSONToYAML(data)
		if err != nil {
			return fmt.Errorf("failed to convert to YAML: %v", err)
		}
		_, err = out.Write(yamlBytes)
		return err
	}

	if title != "" {
		fmt.Fprintf(out, "%s:\n", headerCaser.String(strings.ReplaceAll(title, "-", " ")))
	}
	result := gjson.ParseBytes(data)
	switch {
	case result.IsArray():
		return printTable(out, result)
	case result.IsObject():
		return printFields(out, result)
	default:
		fmt.Fprintln(out, result.String())
		return nil
	}
}

var headerCaser = cases.Title(language.English)

func header(key string) string {
	return strings.ToUpper(headerCaser.String(strings.ReplaceAll(key, "_", " ")))
}

func printTable(out io.Writer, rows gjson.Result) error {
	items := rows.Array()
	if len(items) == 0 {
		fmt.Fprintln(out, "(none)")
		return nil
	}
	var columns []string
	seen := map[string]bool{}
	for _, item := range items {
		item.ForEach(func(k, v gjson.Result) bool {
			if v.IsObject() || v.IsArray() {
				return true
			}
			if !seen[k.String()] {
				seen[k.String()] = true
				columns = append(columns, k.String())
			}
			return true
		})
	}
	if len(columns) == 0 {
		for _, item := range items {
			fmt.Fprintf(out, "- %s\n", item.Raw)
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	heads := make([]string, len(columns))
	for i, c := range columns {
		heads[i] = header(c)
	}
	fmt.Fprintln(tw, strings.Join(heads, "\t"))
	for _, item := range items {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = item.Get(gjsonEscape(c)).String()
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func printFields(out io.Writer, obj gjson.Result) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	obj.ForEach(func(k, v gjson.Result) bool {
		value := v.String()
		if v.IsObject() || v.IsArray() {
			value = v.Raw
		}
		fmt.Fprintf(tw, "%s:\t%s\n", headerCaser.String(strings.ReplaceAll(k.String(), "_", " ")), value)
		return true
	})
	return tw.Flush()
}

func gjsonEscape(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}
