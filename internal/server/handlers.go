package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
	"github.com/MeKo-Tech/scanbridge/internal/version"
)

// maxJSONBody bounds JSON request bodies that carry no image.
const maxJSONBody = 1 << 20

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.facade != nil {
		response.Adapter = s.facade.AdapterName()
		if c := s.facade.Coordinator(); c != nil {
			response.State = c.State().String()
		}
	}
	if s.remote != nil {
		connected := s.remote.Connected()
		response.DeviceConnected = &connected
	}
	s.writeJSON(w, http.StatusOK, response)
}

// formatsHandler lists the symbologies and their integer codes.
func (s *Server) formatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := barcode.AllFormats()
	infos := make([]FormatInfo, len(all))
	for i, f := range all {
		infos[i] = FormatInfo{Code: int(f), Name: f.String()}
	}
	s.writeJSON(w, http.StatusOK, FormatsResponse{Formats: infos, Count: len(infos)})
}

// scanHandler runs one scan on the configured adapter and waits for its result.
// The scan is cancelled when the client goes away or the server timeout hits.
func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bridge.ScanRequest
	if err := decodeOptionalJSON(http.MaxBytesReader(w, r.Body, maxJSONBody), &req); err != nil {
		s.writeErrorResponse(w, "Failed to parse scan request: "+err.Error(), "invalid_request", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	res, err := s.facade.ScanContext(ctx, req)
	observeResult("scan", err, time.Since(start).Seconds())
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	if res.Cancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.writeJSON(w, http.StatusGatewayTimeout, ScanResponse{
			Result:    &res,
			Error:     "scan timed out",
			ErrorType: "timeout",
		})
		return
	}
	if !res.Cancelled {
		decodedTextLength.WithLabelValues(res.FormatValue()).Observe(float64(len(res.TextValue())))
	}
	s.writeJSON(w, http.StatusOK, ScanResponse{Success: true, Result: &res})
}

// cancelHandler cancels the live scan, if any.
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := CancelResponse{Cancelled: s.facade.Cancel(), State: bridge.StateIdle.String()}
	if c := s.facade.Coordinator(); c != nil {
		response.State = c.State().String()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// encodeHandler renders a barcode. With ?output=png (or Accept: image/png) the
// PNG is written directly instead of a JSON data URI.
func (s *Server) encodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bridge.EncodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		s.writeErrorResponse(w, "Failed to parse encode request: "+err.Error(), "invalid_request", http.StatusBadRequest)
		return
	}

	start := time.Now()
	uri, err := s.facade.EncodeImage(req)
	observeResult("encode", err, time.Since(start).Seconds())
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	if wantsPNG(r) {
		png, err := encoder.DecodeDataURI(uri)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), "internal_error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
		return
	}
	s.writeJSON(w, http.StatusOK, EncodeResponse{Success: true, Image: uri})
}

func wantsPNG(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("output"), "png") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "image/png")
}

// requestContext derives the context for a blocking request.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

// decodeOptionalJSON decodes v from body; an empty body leaves v untouched.
func decodeOptionalJSON(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// errorStatus maps bridge errors to an HTTP status and a machine-readable type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, bridge.ErrAlreadyScanning):
		return http.StatusConflict, "already_scanning"
	case errors.Is(err, bridge.ErrNoWindowOrHardware):
		return http.StatusServiceUnavailable, "no_hardware"
	case errors.Is(err, bridge.ErrEncodeDataMissing), errors.Is(err, encoder.ErrSizeTooLarge):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, bridge.ErrNotImplemented):
		return http.StatusNotImplemented, "not_implemented"
	case errors.Is(err, barcode.ErrNotFound):
		return http.StatusUnprocessableEntity, "not_found"
	case errors.Is(err, bridge.ErrNativeSession):
		return http.StatusUnprocessableEntity, "native_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeBridgeError(w http.ResponseWriter, err error) {
	status, kind := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		s.logger.Error("request failed", "error", err, "error_type", kind)
	}
	s.writeErrorResponse(w, err.Error(), kind, status)
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message, errorType string, statusCode int) {
	s.writeJSON(w, statusCode, ScanResponse{Success: false, Error: message, ErrorType: errorType})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

