// Package web 内嵌的单页表单
package web

import (
	_ "embed"
)

//go:embed index.html
var IndexHTML []byte
