package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func testdataPath(filename string) string {
	_, currentFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(currentFile), "testdata", filename)
}

// Payload returns the raw bytes of a file under testdata/.
func Payload(t testing.TB, filename string) []byte {
	t.Helper()
	data, err := os.ReadFile(testdataPath(filename))
	require.NoError(t, err)
	return data
}

// LoadJSON reads a file under testdata/ into a generic map. If target is provided, the
// document is also unmarshaled into it.
func LoadJSON(filename string, target ...any) (map[string]any, error) {
	data, err := os.ReadFile(testdataPath(filename))
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		if err := json.Unmarshal(data, target[0]); err != nil {
			return nil, err
		}
	}
	return result, nil
}
