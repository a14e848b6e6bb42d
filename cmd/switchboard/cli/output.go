// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"os"
	"reflect"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"
)

// Stdout is where commands write results. Tests replace it.
var Stdout io.Writer = os.Stdout

// JSONOutput adds --json to a command. Embed it in the command's
// parameter struct and call AddFlag from the Flags function.
type JSONOutput struct {
	OutputJSON bool
}

// AddFlag registers --json on flagSet.
func (j *JSONOutput) AddFlag(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&j.OutputJSON, "json", false, "output as JSON")
}

// EmitJSON writes result as JSON when --json is set and reports
// whether it did. Nil slices are written as [].
func (j *JSONOutput) EmitJSON(result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, WriteJSON(normalizeNilSlice(result))
}

// WriteJSON writes value as indented JSON to Stdout.
func WriteJSON(value any) error {
	encoder := json.NewEncoder(Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}

// WriteTable renders rows under header to Stdout.
func WriteTable(header table.Row, rows []table.Row) {
	writer := table.NewWriter()
	writer.SetOutputMirror(Stdout)
	writer.SetStyle(table.StyleLight)
	writer.AppendHeader(header)
	writer.AppendRows(rows)
	writer.Render()
}
