package dataset

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Phone_No,State,Total_Day_charge,Churn?
382-4657,KS,45.07,False.
371-7191,OH,27.47,True.
358-1921,NJ,41.38,False.
`

func TestReadCSV(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 3, frame.Len())
	assert.Equal(t, []string{"Phone_No", "State", "Total_Day_charge", "Churn?"}, frame.Columns())
	assert.Equal(t, "OH", frame.Value(1, "State"))
	assert.Equal(t, "", frame.Value(1, "Missing"))
	assert.True(t, frame.Has("Churn?"))
}

func TestReadCSV_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"ragged row", "a,b\n1,2\n3\n"},
		{"duplicate header", "a,a\n1,2\n"},
		{"blank header", "a,\n1,2\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tc.input))
			assert.Error(t, err)
		})
	}
}

func TestFrame_WithColumn(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	scored, err := frame.WithColumn("Churn.1", []string{"0.1", "0.9", "0.2"})
	require.NoError(t, err)

	assert.Equal(t, append(frame.Columns(), "Churn.1"), scored.Columns())
	assert.Equal(t, "0.9", scored.Value(1, "Churn.1"))
	assert.Equal(t, 4, len(frame.Row(0)), "original frame must be untouched")

	rescored, err := scored.WithColumn("Churn.1", []string{"0.3", "0.3", "0.3"})
	require.NoError(t, err)
	assert.Equal(t, scored.Columns(), rescored.Columns())
	assert.Equal(t, "0.3", rescored.Value(0, "Churn.1"))

	_, err = frame.WithColumn("x", []string{"1"})
	assert.Error(t, err)
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", " ", "NA", "NaN", "null", "None"} {
		assert.True(t, IsMissing(v), v)
	}
	for _, v := range []string{"0", "KS", "no"} {
		assert.False(t, IsMissing(v), v)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "working_data.csv")
	require.NoError(t, WriteFileAtomic(path, frame))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	back, err := ReadCSV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, frame.Columns(), back.Columns())
	assert.Equal(t, frame.Len(), back.Len())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLoader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	loader := NewLoader(time.Second)

	frame, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())

	frame, err = loader.Load(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())
}

func TestLoader_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	loader := NewLoader(time.Second)

	frame, err := loader.Load(context.Background(), server.URL+"/train.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())

	_, err = loader.Load(context.Background(), server.URL+"/missing.csv")
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, loadErr.Error(), "404")
}

func TestLoader_Errors(t *testing.T) {
	loader := NewLoader(time.Second)
	dir := t.TempDir()

	garbled := filepath.Join(dir, "garbled.csv")
	require.NoError(t, os.WriteFile(garbled, []byte("a,b\n\"unterminated,2\n"), 0o600))

	for _, locator := range []string{"", filepath.Join(dir, "nope.csv"), garbled} {
		_, err := loader.Load(context.Background(), locator)
		var loadErr *LoadError
		assert.True(t, errors.As(err, &loadErr), "locator %q", locator)
	}
}
