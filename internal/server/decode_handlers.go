package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/scanbridge/internal/batch"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
)

// DecodeRequest is the JSON form of a /decode request. Image holds base64 or a
// data URI.
type DecodeRequest struct {
	Image     string   `json:"image"`
	Formats   []string `json:"formats,omitempty"`
	TryHarder bool     `json:"tryHarder,omitempty"`
}

// BatchDecodeRequest decodes several images in one call.
type BatchDecodeRequest struct {
	Images    []BatchImage `json:"images"`
	Formats   []string     `json:"formats,omitempty"`
	TryHarder bool         `json:"tryHarder,omitempty"`
}

// BatchImage is one image of a batch; Data is base64 in JSON.
type BatchImage struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// BatchDecodeResponse reports every image of a batch in request order.
type BatchDecodeResponse struct {
	Success bool          `json:"success"`
	Results []batch.Item  `json:"results,omitempty"`
	Error   string        `json:"error,omitempty"`
	Summary batch.Summary `json:"summary"`
}

// decodeHandler decodes one uploaded image. It needs no scan session and may
// run while a scan is live.
func (s *Server) decodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, req, ok := s.parseDecodeRequest(w, r)
	if !ok {
		apiRequestsTotal.WithLabelValues("decode", "error").Inc()
		return // error already written
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	res, err := s.facade.DecodeImage(ctx, data, req)
	observeResult("decode", err, time.Since(start).Seconds())
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	decodedTextLength.WithLabelValues(res.FormatValue()).Observe(float64(len(res.TextValue())))
	s.writeJSON(w, http.StatusOK, ScanResponse{Success: true, Result: &res})
}

// parseDecodeRequest accepts a multipart upload (field "image"), a JSON
// DecodeRequest, or the raw image as body. Options of the non-JSON forms come
// from the "formats" and "try_harder" form or query values.
func (s *Server) parseDecodeRequest(w http.ResponseWriter, r *http.Request) ([]byte, bridge.ScanRequest, bool) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		data []byte
		req  bridge.ScanRequest
	)
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(limit); err != nil {
			s.writeErrorResponse(w, "Failed to parse form data", "invalid_request", http.StatusBadRequest)
			return nil, req, false
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			s.writeErrorResponse(w, "No image file provided", "invalid_request", http.StatusBadRequest)
			return nil, req, false
		}
		defer func() { _ = file.Close() }()
		if header.Size > limit {
			s.writeErrorResponse(w, "File too large", "invalid_request", http.StatusRequestEntityTooLarge)
			return nil, req, false
		}
		if data, err = io.ReadAll(file); err != nil {
			s.writeErrorResponse(w, "Failed to read image data", "internal_error", http.StatusInternalServerError)
			return nil, req, false
		}
		req = scanRequestFromValues(r.FormValue("formats"), r.FormValue("try_harder"))
	case "application/json":
		var body DecodeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeErrorResponse(w, "Failed to parse JSON request: "+err.Error(), "invalid_request", http.StatusBadRequest)
			return nil, req, false
		}
		data = []byte(body.Image)
		req = bridge.ScanRequest{Formats: body.Formats, TryHarder: body.TryHarder}
	default:
		var err error
		if data, err = io.ReadAll(r.Body); err != nil {
			s.writeErrorResponse(w, "Failed to read image data", "invalid_request", http.StatusRequestEntityTooLarge)
			return nil, req, false
		}
		q := r.URL.Query()
		req = scanRequestFromValues(q.Get("formats"), q.Get("try_harder"))
	}

	if len(data) == 0 {
		s.writeErrorResponse(w, "No image data provided", "invalid_request", http.StatusBadRequest)
		return nil, req, false
	}
	uploadSizeBytes.Observe(float64(len(data)))
	return data, req, true
}

// scanRequestFromValues builds a request from a comma separated format list
// and a boolean string.
func scanRequestFromValues(formats, tryHarder string) bridge.ScanRequest {
	var req bridge.ScanRequest
	for _, f := range strings.Split(formats, ",") {
		if f = strings.TrimSpace(f); f != "" {
			req.Formats = append(req.Formats, f)
		}
	}
	req.TryHarder, _ = strconv.ParseBool(tryHarder)
	return req
}

// decodeBatchHandler decodes several base64 images on the batch worker pool.
func (s *Server) decodeBatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	var req BatchDecodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, BatchDecodeResponse{Error: "Failed to parse JSON request: " + err.Error()})
		return
	}
	if len(req.Images) == 0 {
		s.writeJSON(w, http.StatusBadRequest, BatchDecodeResponse{Error: "No images provided in batch request"})
		return
	}

	inputs := make([]batch.Input, len(req.Images))
	for i, img := range req.Images {
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("image_%d", i+1)
		}
		uploadSizeBytes.Observe(float64(len(img.Data)))
		inputs[i] = batch.BytesInput(name, img.Data)
	}

	cfg := s.batch
	cfg.Request = bridge.ScanRequest{Formats: req.Formats, TryHarder: req.TryHarder}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	items, err := batch.DecodeAll(ctx, s.facade, inputs, cfg)
	duration := time.Since(start)
	observeResult("decode_batch", err, duration.Seconds())
	if err != nil {
		status, _ := errorStatus(err)
		s.writeJSON(w, status, BatchDecodeResponse{Error: err.Error()})
		return
	}

	res := batch.Result{Items: items, Duration: duration, WorkerCount: cfg.Workers}
	s.writeJSON(w, http.StatusOK, BatchDecodeResponse{
		Success: true,
		Results: items,
		Summary: res.Summary(),
	})
}
