package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/pdfsqueeze/internal/pipeline"
	"github.com/jonathan/pdfsqueeze/internal/types"
)

const (
	defaultPDFOutputName    = "compressed"
	defaultImagesOutputName = "output"
	inputPDFName            = "input.pdf"
)

// HealthResponse is returned by /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// AppInfoResponse is returned by /api/app-info.
type AppInfoResponse struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.cfg.App.Version,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAppInfo(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, AppInfoResponse{
		Name:        s.cfg.App.Name,
		Title:       s.cfg.UI.Title,
		Version:     s.cfg.App.Version,
		Description: s.cfg.App.Description,
		LogoURL:     s.cfg.UI.LogoURL,
	})
}

// handleCompressPDF accepts one PDF and queues a compression job.
func (s *Server) handleCompressPDF(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, s.cfg.MaxUploadBytes(), s.cfg.Upload.MaxFileSizeMB); err != nil {
		s.errorResponse(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		s.errorResponse(w, &APIError{Status: http.StatusBadRequest, Code: types.CodeNoFiles, Message: "No PDF file provided"})
		return
	}
	fh := files[0]
	if !hasExtension(fh.Filename, s.cfg.Upload.AllowedPDFTypes) {
		s.errorResponse(w, errInvalidFileType("Only PDF files are allowed"))
		return
	}
	if fh.Size > s.cfg.MaxUploadBytes() {
		s.errorResponse(w, errFileTooLarge(s.cfg.Upload.MaxFileSizeMB))
		return
	}

	req, err := parseCompressRequest(r, s.cfg.DefaultRequest(defaultPDFOutputName))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	job, err := s.store.Create(fh.Filename)
	if err != nil {
		s.errorResponse(w, errInternal("Failed to create job", err))
		return
	}

	ws := s.store.Workspace()
	input, err := ws.Path(job.ID, inputPDFName)
	if err == nil {
		err = saveUpload(fh, input)
	}
	if err != nil {
		s.store.Cleanup(job.ID)
		s.errorResponse(w, errInternal("Failed to store upload", err))
		return
	}
	outputName := req.OutputFilename + ".pdf"
	if outputName == inputPDFName {
		outputName = req.OutputFilename + "_compressed.pdf"
	}
	output, err := ws.Path(job.ID, outputName)
	if err != nil {
		s.store.Cleanup(job.ID)
		s.errorResponse(w, errInternal("Failed to prepare output", err))
		return
	}

	s.logger.Info("received PDF for compression",
		"job_id", job.ID, "filename", fh.Filename, "size_mb", types.BytesToMB(fh.Size))

	s.runner.SubmitPDF(pipeline.PDFJob{
		ID:         job.ID,
		InputPath:  input,
		OutputPath: output,
		Request:    req,
	})

	s.jsonResponse(w, http.StatusAccepted, s.submitResponse(job, "PDF compression started"))
}

// handleImagesToPDF accepts images in page order and queues a conversion job. Files with
// unsupported extensions are skipped.
func (s *Server) handleImagesToPDF(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadBytes()
	if err := parseMultipart(w, r, maxBytes, s.cfg.Upload.MaxFileSizeMB); err != nil {
		s.errorResponse(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.errorResponse(w, &APIError{Status: http.StatusBadRequest, Code: types.CodeNoFiles, Message: "No image files provided"})
		return
	}

	req, err := parseCompressRequest(r, s.cfg.DefaultRequest(defaultImagesOutputName))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	job, err := s.store.Create("images")
	if err != nil {
		s.errorResponse(w, errInternal("Failed to create job", err))
		return
	}
	ws := s.store.Workspace()

	var (
		paths []string
		total int64
	)
	for i, fh := range files {
		if fh.Filename == "" {
			continue
		}
		if !hasExtension(fh.Filename, s.cfg.Upload.AllowedImageTypes) {
			s.logger.Warn("skipping unsupported file", "job_id", job.ID, "filename", fh.Filename)
			continue
		}

		total += fh.Size
		if total > maxBytes {
			s.store.Cleanup(job.ID)
			apiErr := errFileTooLarge(s.cfg.Upload.MaxFileSizeMB)
			apiErr.Message = fmt.Sprintf("Total size exceeds maximum of %d MB", s.cfg.Upload.MaxFileSizeMB)
			s.errorResponse(w, apiErr)
			return
		}

		ext := strings.ToLower(filepath.Ext(fh.Filename))
		stem := strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
		path, err := ws.Path(job.ID, fmt.Sprintf("%03d_%s%s", i, sanitizeFilename(stem), ext))
		if err == nil {
			err = saveUpload(fh, path)
		}
		if err != nil {
			s.store.Cleanup(job.ID)
			s.errorResponse(w, errInternal("Failed to store upload", err))
			return
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		s.store.Cleanup(job.ID)
		s.errorResponse(w, &APIError{Status: http.StatusBadRequest, Code: types.CodeNoValidImages, Message: "No valid image files found"})
		return
	}

	output, err := ws.Path(job.ID, req.OutputFilename+".pdf")
	if err != nil {
		s.store.Cleanup(job.ID)
		s.errorResponse(w, errInternal("Failed to prepare output", err))
		return
	}

	s.logger.Info("received images for conversion", "job_id", job.ID, "count", len(paths))

	s.runner.SubmitImages(pipeline.ImagesJob{
		ID:         job.ID,
		ImagePaths: paths,
		OutputPath: output,
		Request:    req,
	})

	s.jsonResponse(w, http.StatusAccepted, s.submitResponse(job, "Image conversion started"))
}

func (s *Server) submitResponse(job types.Job, message string) types.SubmitResponse {
	return types.SubmitResponse{
		Success:     true,
		JobID:       job.ID,
		Status:      job.Status,
		StatusURL:   "/api/compress/status/" + job.ID,
		DownloadURL: "/api/compress/download/" + job.ID,
		Message:     message,
	}
}

// lookupJob resolves the {id} path value. Ids that are not UUIDs cannot name a job.
func (s *Server) lookupJob(r *http.Request) (types.Job, error) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		return types.Job{}, errJobNotFound(id)
	}
	job, ok := s.store.Get(id)
	if !ok {
		return types.Job{}, errJobNotFound(id)
	}
	return job, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.lookupJob(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.NewStatusResponse(job))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveOutput(w, r, "attachment")
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.serveOutput(w, r, "inline")
}

// serveOutput streams a completed job's PDF with the given Content-Disposition type.
func (s *Server) serveOutput(w http.ResponseWriter, r *http.Request, disposition string) {
	notFound := &APIError{Status: http.StatusNotFound, Code: types.CodeFileNotFound, Message: "Output file not found"}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		s.errorResponse(w, notFound)
		return
	}
	path, ok := s.store.OutputFile(id)
	if !ok {
		s.errorResponse(w, notFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		notFound.Cause = err
		s.errorResponse(w, notFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.errorResponse(w, errInternal("Failed to read output file", err))
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.lookupJob(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.store.Cleanup(job.ID)
	s.logger.Info("job deleted", "job_id", job.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	presets := s.cfg.Compression.Presets
	if presets == nil {
		presets = []types.Preset{}
	}
	s.jsonResponse(w, http.StatusOK, types.PresetsResponse{Presets: presets})
}
