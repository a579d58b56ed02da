package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ModelDir is where uploaded model files are stored.
var ModelDir = "models"

// CreateModelFile opens a new file under ModelDir. Only the base name of
// name is used.
func CreateModelFile(name string) (*os.File, string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == ".." || base == "/" {
		return nil, "", fmt.Errorf("invalid model file name %q", name)
	}
	if err := os.MkdirAll(ModelDir, 0o755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(ModelDir, base)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}
