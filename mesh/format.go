package mesh

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrExportFailure = errors.New("export failure")
	ErrOutputExists  = errors.New("output file already exists")
	ErrUnknownFormat = errors.New("unknown mesh format")
)

// Format 导出格式，取值即文件扩展名
type Format string

const (
	FormatOBJ Format = "obj"
	FormatGLB Format = "glb"
	FormatSTL Format = "stl"
)

// DefaultFormats 页面默认导出的两种格式：文本网格 + 二进制场景
var DefaultFormats = []Format{FormatOBJ, FormatGLB}

type encoder func(w io.Writer, m *Mesh) error

var encoders = map[Format]encoder{
	FormatOBJ: WriteOBJ,
	FormatGLB: WriteGLB,
	FormatSTL: WriteSTL,
}

func (f Format) Ext() string {
	return string(f)
}

func (f Format) Valid() bool {
	_, ok := encoders[f]
	return ok
}

// ParseFormat 大小写不敏感，允许带前导点
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// ParseFormats 解析逗号分隔或多值的格式列表，拒绝重复
func ParseFormats(values ...string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			f, err := ParseFormat(part)
			if err != nil {
				return nil, err
			}
			if seen[f] {
				return nil, fmt.Errorf("duplicate format %q", f)
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Export 把网格写到 path。文件以 O_EXCL 创建，已存在时返回 ErrOutputExists，不覆盖。
func Export(m *Mesh, f Format, path string) (err error) {
	enc, ok := encoders[f]
	if !ok {
		return fmt.Errorf("%w: %w: %q", ErrExportFailure, ErrUnknownFormat, f)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %w: %s", ErrExportFailure, ErrOutputExists, path)
		}
		return fmt.Errorf("%w: %s: %w", ErrExportFailure, f, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %s: %w", ErrExportFailure, f, cerr)
		}
	}()

	bw := bufio.NewWriter(file)
	if err := enc(bw, m); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExportFailure, f, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExportFailure, f, err)
	}
	return nil
}
