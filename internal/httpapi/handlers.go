package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/hasferrr/mitsuko-client-sub003/internal/config"
	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
	"github.com/hasferrr/mitsuko-client-sub003/internal/metrics"
	"github.com/hasferrr/mitsuko-client-sub003/internal/service"
	"github.com/hasferrr/mitsuko-client-sub003/internal/termmap"
	"github.com/hasferrr/mitsuko-client-sub003/internal/translator"
	"github.com/hasferrr/mitsuko-client-sub003/pkg/log"
)

type translateRequest struct {
	SourceLanguage string                      `json:"source_language"`
	TargetLanguage string                      `json:"target_language"`
	Context        string                      `json:"context"`
	Subtitles      []jsonstream.SubtitleRecord `json:"subtitles"`
	Glossary       termmap.TermMap             `json:"glossary,omitempty"`
}

func (r translateRequest) toRequest() (translator.Request, error) {
	source, err := translator.ParseLanguage(r.SourceLanguage)
	if err != nil {
		return translator.Request{}, err
	}
	target, err := translator.ParseLanguage(r.TargetLanguage)
	if err != nil {
		return translator.Request{}, err
	}
	return translator.Request{
		SourceLanguage: source,
		TargetLanguage: target,
		Context:        r.Context,
		Subtitles:      r.Subtitles,
		Glossary:       r.Glossary,
	}, nil
}

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		list, err := s.translations.List(r.Context(), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var body translateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		req, err := body.toRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id, err := s.translations.StartTranslation(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"id": id,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTranslation serves /api/translations/{id}[/stream|/cancel].
func (s *Server) handleTranslation(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/translations/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			snap, err := s.translations.Result(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		case http.MethodDelete:
			if err := s.translations.Delete(r.Context(), id); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "stream":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.streamTranslation(w, r, id)
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.translations.Cancel(id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"ok": true,
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type textRequest struct {
	Text string `json:"text"`
}

type parseFailure struct {
	Error  string                `json:"error"`
	Stage  jsonstream.ParseStage `json:"stage,omitempty"`
	Record *int                  `json:"record,omitempty"`
	// Text is the submitted text with the failure marker appended.
	Text string `json:"text"`
}

// handleParse strictly validates a finished or hand-edited response.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	records, err := jsonstream.ParseTranslationArrayStrict(req.Text)
	metrics.RecordStrictParse(err)
	if err != nil {
		resp := parseFailure{
			Error: err.Error(),
			Text:  req.Text + "\n\n" + jsonstream.FailedToParseMarker,
		}
		var pe *jsonstream.ParseError
		if errors.As(err, &pe) {
			resp.Stage = pe.Stage
			if pe.Record >= 0 {
				record := pe.Record
				resp.Record = &record
			}
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, jsonstream.RepairResult{Subtitles: records})
}

// handleRepair runs the lenient pipeline on a partial response.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	records := jsonstream.ParseTranslationJSON(req.Text)
	metrics.RecordLiveParse(len(records))
	writeJSON(w, http.StatusOK, map[string]any{
		"repaired":  jsonstream.RepairJSON(jsonstream.CleanUpJSONResponse(req.Text)),
		"subtitles": records,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		settings.LLMAPIKey = maskSecret(settings.LLMAPIKey)
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		current, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// blank fields and an echoed masked key keep the stored values
		if req.LLMAPIKey == maskSecret(current.LLMAPIKey) {
			req.LLMAPIKey = ""
		}
		req = current.Overlay(req)
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		saved.LLMAPIKey = maskSecret(saved.LLMAPIKey)
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// maskSecret keeps the last four characters of a key.
func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func statusFor(err error) int {
	switch service.TypeOf(err) {
	case service.ErrValidation:
		return http.StatusBadRequest
	case service.ErrNotFound:
		return http.StatusNotFound
	case service.ErrConfig:
		return http.StatusServiceUnavailable
	case service.ErrAPI, service.ErrNetwork:
		return http.StatusBadGateway
	case service.ErrParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// handleGlossary serves the term map of the language pair named by the
// source and target query parameters.
func (s *Server) handleGlossary(w http.ResponseWriter, r *http.Request) {
	if s.glossaries == nil {
		writeError(w, http.StatusNotImplemented, "glossary store is not configured")
		return
	}
	source, err := translator.ParseLanguage(r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := translator.ParseLanguage(r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if source == language.Und || target == language.Und {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		tm, err := s.glossaries.Get(source, target)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, tm)
	case http.MethodPut:
		var tm termmap.TermMap
		if err := json.NewDecoder(r.Body).Decode(&tm); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if tm == nil {
			tm = termmap.TermMap{}
		}
		if err := s.glossaries.Put(source, target, tm); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info("Glossary %s-%s saved with %d terms", source, target, len(tm))
		writeJSON(w, http.StatusOK, tm)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
