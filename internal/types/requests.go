package types

import "github.com/go-playground/validator/v10"

// CompressRequest holds the form fields shared by the PDF and image upload endpoints.
type CompressRequest struct {
	TargetSizeMB   float64 `json:"target_size_mb" validate:"gte=0.1,lte=100"`
	Resolution     int     `json:"dpi" validate:"gte=10,lte=300"`
	Quality        int     `json:"quality" validate:"gte=5,lte=100"`
	AutoCompress   bool    `json:"auto_compress"`
	OutputFilename string  `json:"output_filename" validate:"max=255"`
}

// DefaultCompressRequest returns the form defaults used when a field is omitted.
func DefaultCompressRequest(outputName string) CompressRequest {
	return CompressRequest{
		TargetSizeMB:   0.5,
		Resolution:     72,
		Quality:        50,
		AutoCompress:   true,
		OutputFilename: outputName,
	}
}

// Validate validates the CompressRequest using the validator.
func (r *CompressRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ManualAttempt returns the caller-chosen settings as a ladder entry.
func (r *CompressRequest) ManualAttempt() Attempt {
	return Attempt{Resolution: r.Resolution, Quality: r.Quality, Label: "Custom"}
}

// SubmitResponse is returned when a job has been accepted.
type SubmitResponse struct {
	Success     bool      `json:"success"`
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	StatusURL   string    `json:"status_url"`
	DownloadURL string    `json:"download_url"`
	Message     string    `json:"message"`
}

// StatusResponse is returned by the job status endpoint.
type StatusResponse struct {
	JobID     string             `json:"job_id"`
	Status    JobStatus          `json:"status"`
	Progress  int                `json:"progress"`
	Message   string             `json:"message"`
	ErrorCode string             `json:"error_code,omitempty"`
	Result    *CompressionReport `json:"result,omitempty"`
}

// NewStatusResponse projects a job onto its polling payload.
func NewStatusResponse(job Job) StatusResponse {
	return StatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Message:   job.Message,
		ErrorCode: job.ErrorCode,
		Result:    job.Result,
	}
}

// ErrorDetail is the machine-readable part of an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// PresetsResponse lists the configured presets.
type PresetsResponse struct {
	Presets []Preset `json:"presets"`
}
