package ci_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildAutomationFilesExist(t *testing.T) {
	projectRoot := filepath.Clean(filepath.Join("..", ".."))
	testCases := []struct {
		relativePath string
		requiredSnip []byte
	}{
		{
			relativePath: filepath.Join(".github", "workflows", "go-tests.yml"),
			requiredSnip: []byte("go test ./..."),
		},
		{
			relativePath: filepath.Join(".github", "workflows", "release.yml"),
			requiredSnip: []byte("docker build"),
		},
		{
			relativePath: "Dockerfile",
			requiredSnip: []byte("./cmd/clinicgate"),
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.relativePath, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join(projectRoot, testCase.relativePath))
			if err != nil {
				t.Fatalf("read %q: %v", testCase.relativePath, err)
			}
			if !bytes.Contains(data, testCase.requiredSnip) {
				t.Fatalf("%q missing required snippet %q", testCase.relativePath, string(testCase.requiredSnip))
			}
		})
	}
}
