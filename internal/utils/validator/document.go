// internal/utils/validator/document.go
package validator

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

const sniffLen = 512

// DefaultMIMETypes maps extensions to the sniffed media types they may carry.
// An empty list disables sniffing for that extension.
var DefaultMIMETypes = map[string][]string{
	".pdf":  {"application/pdf"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".bmp":  {"image/bmp"},
	".tiff": {},
	".docx": {"application/zip"},
	".pptx": {"application/zip"},
	".odt":  {"application/zip"},
	".rtf":  {"text/"},
	".html": {"text/"},
	".htm":  {"text/"},
	".xml":  {"text/"},
	".txt":  {"text/"},
	".md":   {"text/"},
	".csv":  {"text/"},
}

// DocumentValidator 文档验证器
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64               // 最大文件大小（字节）
	AllowedTypes map[string][]string // 允许的文件类型 {扩展名: []MIME类型}
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = &ValidatorConfig{}
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 50 * 1024 * 1024 // 50MB
	}
	if config.AllowedTypes == nil {
		config.AllowedTypes = DefaultMIMETypes
	}
	return &DocumentValidator{logger: log, config: config}
}

// AllowedFor restricts DefaultMIMETypes to exts.
func AllowedFor(exts []string) map[string][]string {
	out := make(map[string][]string, len(exts))
	for _, ext := range exts {
		out[ext] = DefaultMIMETypes[ext]
	}
	return out
}

// Extensions lists the accepted extensions in sorted order.
func (v *DocumentValidator) Extensions() []string {
	out := make([]string, 0, len(v.config.AllowedTypes))
	for ext := range v.config.AllowedTypes {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Validate checks name, size and extension, then sniffs the first bytes of r.
// The returned reader yields the complete content, including the sniffed bytes.
func (v *DocumentValidator) Validate(filename string, size int64, r io.Reader) (*FileInfo, io.Reader, error) {
	info := &FileInfo{
		Filename:  filepath.Base(filename),
		Size:      size,
		Extension: strings.ToLower(filepath.Ext(filename)),
	}
	if err := v.performBasicValidation(info); err != nil {
		return nil, nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, nil, &models.ValidationError{Code: "EMPTY_FILE", Field: "file", Message: "file is empty"}
	}

	info.MimeType = http.DetectContentType(head)
	if err := v.validateMimeType(info); err != nil {
		v.logger.Warn("Rejected upload",
			logger.String("filename", info.Filename),
			logger.String("mimeType", info.MimeType),
		)
		return nil, nil, err
	}
	return info, io.MultiReader(bytes.NewReader(head), r), nil
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(info *FileInfo) error {
	if info.Filename == "." || info.Filename == "/" {
		return &models.ValidationError{Code: "MISSING_FILENAME", Field: "filename", Message: "filename is required"}
	}
	// 负数表示大小未知
	if info.Size == 0 {
		return &models.ValidationError{Code: "EMPTY_FILE", Field: "size", Message: "file is empty"}
	}
	if info.Size > v.config.MaxFileSize {
		return &models.ValidationError{
			Code:    "FILE_TOO_LARGE",
			Field:   "size",
			Message: fmt.Sprintf("file size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
		}
	}
	if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
		return &models.ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Field:   "extension",
			Message: fmt.Sprintf("file type %q is not allowed", info.Extension),
		}
	}
	return nil
}

// MIME类型验证
func (v *DocumentValidator) validateMimeType(info *FileInfo) error {
	allowed := v.config.AllowedTypes[info.Extension]
	if len(allowed) == 0 {
		return nil
	}
	media, _, err := mime.ParseMediaType(info.MimeType)
	if err != nil {
		media = info.MimeType
	}
	for _, want := range allowed {
		if media == want || strings.HasSuffix(want, "/") && strings.HasPrefix(media, want) {
			return nil
		}
	}
	return &models.ValidationError{
		Code:    "INVALID_MIME_TYPE",
		Field:   "mimeType",
		Message: fmt.Sprintf("content looks like %s, not a %s file", media, info.Extension),
	}
}
