// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"
)

// FileReader is an io.Reader that handles opening a file for reading automatically.
type FileReader struct {
	path string

	openOnce sync.Once
	openErr  error
	fs       fs.FS
	file     io.ReadCloser
}

// NewFileReader configures a FileReader.
func NewFileReader(fsys fs.FS, path string) *FileReader {
	return &FileReader{
		path: path,
		fs:   fsys,
	}
}

// Read implements the io.Reader interface.
func (r *FileReader) Read(b []byte) (int, error) {
	r.openOnce.Do(func() {
		r.file, r.openErr = r.fs.Open(r.path)
	})
	if r.openErr != nil {
		return 0, r.openErr
	}
	return r.file.Read(b)
}

// Close implements the io.Closer interface.
func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil
	return err
}

// UnsupportedFileTypeError occurs when FromFile can not tell
// which format a file is written in.
type UnsupportedFileTypeError struct {
	Path string
}

// Error implements the error interface.
func (e UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported config file type: %s", e.Path)
}

// FromFile returns a Source for a JSON or YAML file, chosen by the file
// extension. The file contents are rendered as a text/template first,
// see [RenderTextTemplate].
func FromFile(fsys fs.FS, name string, opts ...RenderTextTemplateOption) Source {
	r := RenderTextTemplate(NewFileReader(fsys, name), opts...)

	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FromJson(r)
	case ".yaml", ".yml":
		return FromYaml(r)
	default:
		return SourceFunc(func(Store) error {
			return UnsupportedFileTypeError{Path: name}
		})
	}
}
