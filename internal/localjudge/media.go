// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package localjudge

import (
	"context"
	"os"
	"path/filepath"
)

// FileMedia is a judgehost.MediaStore backed by a plain directory tree,
// for cmd/polyimport's standalone mode where no real judge media
// service is available.
type FileMedia struct {
	root      string
	publicURL string
}

// NewFileMedia returns a FileMedia rooted at root, serving files at
// publicURL+path. root is created lazily on first write.
func NewFileMedia(root, publicURL string) *FileMedia {
	return &FileMedia{root: root, publicURL: publicURL}
}

func (m *FileMedia) Save(ctx context.Context, path string, data []byte) error {
	full := m.Path(path)
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0640)
}

func (m *FileMedia) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(m.Path(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *FileMedia) ListDir(ctx context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(m.Path(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (m *FileMedia) Path(path string) string {
	return filepath.Join(m.root, filepath.FromSlash(path))
}

func (m *FileMedia) PublicURL(path string) string {
	return m.publicURL + path
}
