package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper whose logger writes through t.Log.
// BLECENTRAL_TEST_LOG=debug turns on debug output.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	w := &testWriter{t: t}
	t.Cleanup(func() { w.done.Store(true) })
	logger.SetOutput(w)
	logger.SetLevel(logrus.WarnLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("BLECENTRAL_TEST_LOG")); err == nil {
		logger.SetLevel(lvl)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// testWriter stops forwarding once the test has finished, since background
// goroutines may still log and t.Log panics after completion.
type testWriter struct {
	t    *testing.T
	done atomic.Bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	if w.done.Load() {
		return len(p), nil
	}
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func CreateSimPeripheral(id string) *PeripheralBuilder {
	return NewPeripheralBuilder(id)
}

func CreateSimPeripheralFromJSON(jsonStrFmt string, args ...any) *PeripheralBuilder {
	return NewPeripheralBuilder("").FromJSON(jsonStrFmt, args...)
}

// ProjectRoot walks up from the working directory to the directory holding go.mod.
func ProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

// LoadFixture reads a file relative to the project root.
func LoadFixture(relPath string) ([]byte, error) {
	root, err := ProjectRoot()
	if err != nil {
		return nil, err
	}
	full := filepath.Join(root, relPath)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", full, err)
	}
	return data, nil
}
