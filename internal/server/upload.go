package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/pdfsqueeze/internal/types"
)

// Memory held by ParseMultipartForm before parts spill to temp files.
const multipartMemory = 32 << 20

// sanitizeFilename strips path separators, leading dots and anything other than
// letters, digits, spaces, dashes and underscores. An empty result becomes "output".
func sanitizeFilename(name string) string {
	name = strings.NewReplacer("/", "", "\\", "", "\x00", "").Replace(name)
	name = strings.TrimLeft(name, ".")

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		return s
	}
	return "output"
}

// hasExtension reports whether name ends in one of exts, ignoring case.
func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, allowed := range exts {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// parseMultipart reads the form with the body capped at maxBytes plus form overhead.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64, maxMB int) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errFileTooLarge(maxMB)
		}
		return errInvalidParameters("Invalid multipart form", err)
	}
	return nil
}

// parseCompressRequest overlays the submitted form fields on defaults and validates them.
func parseCompressRequest(r *http.Request, defaults types.CompressRequest) (types.CompressRequest, error) {
	req := defaults

	if v := r.FormValue("target_size_mb"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, errInvalidParameters("target_size_mb must be a number", err)
		}
		req.TargetSizeMB = f
	}
	if v := r.FormValue("dpi"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errInvalidParameters("dpi must be an integer", err)
		}
		req.Resolution = n
	}
	if v := r.FormValue("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errInvalidParameters("quality must be an integer", err)
		}
		req.Quality = n
	}
	if v := r.FormValue("auto_compress"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errInvalidParameters("auto_compress must be a boolean", err)
		}
		req.AutoCompress = b
	}
	if v := r.FormValue("output_filename"); v != "" {
		req.OutputFilename = v
	}

	if err := req.Validate(); err != nil {
		return req, errInvalidParameters(validationMessage(err), err)
	}
	req.OutputFilename = sanitizeFilename(req.OutputFilename)
	return req, nil
}

// validationMessage names the first offending form field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid parameters"
	}
	fe := verrs[0]
	field := map[string]string{
		"TargetSizeMB":   "target_size_mb",
		"Resolution":     "dpi",
		"Quality":        "quality",
		"OutputFilename": "output_filename",
	}[fe.Field()]
	if field == "" {
		field = fe.Field()
	}
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// saveUpload copies an uploaded part to path.
func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return dst.Close()
}
