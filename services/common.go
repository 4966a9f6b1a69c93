package services

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

func GetEnv(key, fallback string) string {
	value := os.Getenv(key)
	if len(value) == 0 {
		return fallback
	}
	return value
}

func StrPointer(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

func Int64Pointer(i int64) *int64 {
	return &i
}

func Float64Pointer(f float64) *float64 {
	return &f
}

// ReadFileFromUrl downloads a remote file fully into memory. Every image and
// audio fetch in the pipeline goes through here so the timeout stays bounded.
func ReadFileFromUrl(url string) ([]byte, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch file, status code: %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	return content, nil
}

func CreateTempFile(data []byte, filename string) (string, error) {
	ext := filepath.Ext(filename)
	tempFile, err := os.CreateTemp("", "temp-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %v", err)
	}
	defer tempFile.Close()
	if _, err := tempFile.Write(data); err != nil {
		return "", fmt.Errorf("failed to write to temp file: %v", err)
	}

	return tempFile.Name(), nil
}
