package util

import (
	"fmt"
	"image"
	"io"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeImage 解码上传的图片，按 EXIF 方向自动旋转
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Timestamp 输出文件和日志文件共用的时间戳格式
func Timestamp(t time.Time) string {
	return t.Format("20060102_150405")
}
