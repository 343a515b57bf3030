package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONResult(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Result(map[string]int{"total": 2}, true, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, map[string]any{"total": 2.0}, resp.Data)
}

func TestOutputFormatter_TextResult(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Result(nil, false, func(w io.Writer) {
		io.WriteString(w, "all good\n")
	}))
	assert.Equal(t, "all good\n", buf.String())
}

func TestOutputFormatter_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Error(ErrCodeArgs, "directory not found: x", nil))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeArgs, resp.Error.Code)

	buf.Reset()
	text := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
	require.NoError(t, text.Error(ErrCodeLoad, "bad scenario", "line 3"))
	assert.Equal(t, "Error [E002]: bad scenario\nDetails: line 3\n", buf.String())
}

func TestOutputFormatter_ErrOut(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	assert.Same(t, out, (&OutputFormatter{Writer: out}).ErrOut())
	assert.Same(t, errOut, (&OutputFormatter{Writer: out, ErrWriter: errOut}).ErrOut())
}
