package models

// These structs define the JSON payloads exchanged with the viewer components
// and the scheduler.

// Envelope wraps every JSON response body as {"message": ...}, which is the
// shape the viewer components already parse.
type Envelope struct {
	Message any `json:"message"`
}

// ConvertResponse is the result of a convert request for a Drive file.
type ConvertResponse struct {
	Success bool   `json:"success"`
	PDFURL  string `json:"pdf_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PreviewResponse is the result of a preview lookup by file name.
type PreviewResponse struct {
	Supported  bool   `json:"supported"`
	PreviewURL string `json:"preview_url,omitempty"`
	Message    string `json:"message,omitempty"`
}

// SweepRequest is the optional payload carried by a scheduled sweep trigger.
type SweepRequest struct {
	Retention string `json:"retention,omitempty"`
}

// SweepResult summarises one retention sweep.
type SweepResult struct {
	Scanned      int      `json:"scanned"`
	Deleted      int      `json:"deleted"`
	Skipped      int      `json:"skipped"`
	TempsRemoved int      `json:"tempsRemoved,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}
