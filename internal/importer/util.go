package importer

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func insecureHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
	}
}

func fetchWithClient(src string, client *http.Client) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(src)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func mustParse(s string) *url.URL {
	u, _ := url.Parse(s)
	return u
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isSafeLocalRef enforces allow-file-refs and same-tree rules for local file refs.
func isSafeLocalRef(refPath string, baseDir string, allowFileRefs bool) bool {
	if allowFileRefs {
		return true
	}
	if refPath == "" {
		return false
	}
	refAbs, err := filepath.Abs(refPath)
	if err != nil {
		return false
	}
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, refAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// fileStem turns a collection or environment name into a file name stem.
func fileStem(name string) string {
	r := strings.NewReplacer(" ", "", "/", "_", "\\", "_", ":", "_", "?", "_", "*", "_")
	s := r.Replace(strings.TrimSpace(name))
	if s == "" {
		return "imported"
	}
	return s
}
