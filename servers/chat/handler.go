package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Handler serves the chat endpoints of the plugin:
//   - POST /ask answers {"data":{"text":"..."}} once the whole answer is generated;
//   - POST /ask-stream answers an event stream of `data: {"text":"..."}` lines terminated by
//     `data: [DONE]`.
//
// Both accept a JSON body {"prompt": "...", "system": "...", ...}.
type Handler struct {
	gen    Generator
	logger *slog.Logger
	mux    *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a Handler answering with gen.
func NewHandler(gen Generator, options ...Option) *Handler {
	h := &Handler{
		gen:    gen,
		logger: slog.New(slog.DiscardHandler),
		mux:    http.NewServeMux(),
	}
	for _, opt := range options {
		opt(h)
	}

	h.mux.HandleFunc("POST /ask", h.handleAsk)
	h.mux.HandleFunc("POST /ask-stream", h.handleAskStream)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.logger.With(slog.String("req_id", uuid.NewString()))

	req, err := decodeRequest(r)
	if err != nil {
		log.WarnContext(r.Context(), "http.ask.invalid", slog.String("err", err.Error()))
		writeJSONError(w, statusFor(err), err.Error())
		return
	}

	var sb strings.Builder
	for fragment, err := range h.gen.Generate(r.Context(), req) {
		if err != nil {
			log.ErrorContext(r.Context(), "http.ask.generate.fail", slog.String("err", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "generation failed")
			return
		}
		sb.WriteString(fragment)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"text": sb.String()}}); err != nil {
		log.ErrorContext(r.Context(), "http.ask.write.fail", slog.String("err", err.Error()))
		return
	}
	log.InfoContext(r.Context(), "http.ask.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleAskStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := h.logger.With(slog.String("req_id", uuid.NewString()))

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		log.WarnContext(ctx, "http.ask_stream.not_acceptable")
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		log.WarnContext(ctx, "http.ask_stream.invalid", slog.String("err", err.Error()))
		writeJSONError(w, statusFor(err), err.Error())
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	fragments := 0
	for fragment, err := range h.gen.Generate(ctx, req) {
		if err != nil {
			if ctx.Err() != nil {
				log.InfoContext(ctx, "http.ask_stream.client_gone", slog.Int("fragments", fragments))
				return
			}
			log.ErrorContext(ctx, "http.ask_stream.generate.fail", slog.String("err", err.Error()))
			return
		}
		if err := writeEvent(w, map[string]string{"text": fragment}); err != nil {
			log.WarnContext(ctx, "http.ask_stream.write.fail", slog.String("err", err.Error()))
			return
		}
		f.Flush()
		fragments++
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", "[DONE]"); err != nil {
		log.WarnContext(ctx, "http.ask_stream.write.fail", slog.String("err", err.Error()))
		return
	}
	f.Flush()

	log.InfoContext(ctx, "http.ask_stream.ok",
		slog.Int("fragments", fragments),
		slog.Duration("dur", time.Since(start)))
}

var (
	errUnsupportedMediaType = errors.New("content-type must be application/json")
	errMissingPrompt        = errors.New("prompt is required")
)

func decodeRequest(r *http.Request) (Request, error) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		return Request{}, errUnsupportedMediaType
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return Request{}, fmt.Errorf("invalid body: %w", err)
	}

	req := Request{Extra: map[string]any{}}
	for k, v := range body {
		switch k {
		case "prompt":
			req.Prompt, _ = v.(string)
		case "system":
			req.System, _ = v.(string)
		default:
			req.Extra[k] = v
		}
	}
	if req.Prompt == "" {
		return Request{}, errMissingPrompt
	}

	return req, nil
}

func statusFor(err error) int {
	if errors.Is(err, errUnsupportedMediaType) {
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadRequest
}

func writeEvent(w http.ResponseWriter, v any) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", bs)
	return err
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"status": status, "message": message}})
}
