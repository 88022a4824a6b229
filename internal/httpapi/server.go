// Package httpapi exposes the versioned cache and the lyrics lookups over
// HTTP/JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/lyrcache/pkg/cache"
	"github.com/wilhg/lyrcache/pkg/errmodel"
	"github.com/wilhg/lyrcache/pkg/lyrics"
	"github.com/wilhg/lyrcache/pkg/settings"
	"github.com/wilhg/lyrcache/pkg/store"
)

const maxBodyBytes = 1 << 20

// Server serves the HTTP API. lrclib and fetcher may be nil, in which case
// their routes answer 404.
type Server struct {
	cache   *cache.Store
	lrclib  *lyrics.LRCLib
	fetcher *lyrics.Fetcher
	log     *slog.Logger
	schemas *schemas
}

// New builds a Server. It fails only if the embedded request schemas do not
// compile.
func New(c *cache.Store, lrclib *lyrics.LRCLib, fetcher *lyrics.Fetcher, logger *slog.Logger) (*Server, error) {
	sch, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cache: c, lrclib: lrclib, fetcher: fetcher, log: logger, schemas: sch}, nil
}

// Handler returns the traced route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/items", s.listKeys)
	mux.HandleFunc("DELETE /api/items", s.clearAll)
	mux.HandleFunc("GET /api/items/{key}", s.getItem)
	mux.HandleFunc("PUT /api/items/{key}", s.saveItem)
	mux.HandleFunc("DELETE /api/items/{key}", s.removeItem)
	mux.HandleFunc("GET /api/items/{key}/versions", s.listVersions)
	mux.HandleFunc("GET /api/items/{key}/versions/{version}", s.getVersion)
	mux.HandleFunc("GET /api/items/{key}/diff", s.diffVersions)
	mux.HandleFunc("POST /api/prune", s.prune)
	mux.HandleFunc("GET /api/settings", s.getSettings)
	mux.HandleFunc("PUT /api/settings", s.updateSettings)

	mux.HandleFunc("GET /api/lyrics/search", s.searchLyrics)
	mux.HandleFunc("POST /api/lyrics/spicy", s.spicyLyrics)
	mux.HandleFunc("GET /api/lyrics/spicy/sitekey", s.siteKey)

	return otelhttp.NewHandler(mux, "lyrcache",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if r.Pattern != "" {
				return r.Pattern
			}
			return r.Method + " " + r.URL.Path
		}),
	)
}

type saveRequest struct {
	Kind  store.Kind      `json:"kind"`
	TTLMs *int64          `json:"ttl_ms"`
	Value json.RawMessage `json:"value"`
}

type itemResponse struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.cache.ListKeys(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) clearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.ClearAll(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	content, ok, err := s.cache.Get(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, errmodel.NotFound("item not found", map[string]any{"key": key}))
		return
	}
	writeJSON(w, http.StatusOK, itemResponse{Key: key, Content: content})
}

func (s *Server) saveItem(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validate(s.schemas.saveItem, body); err != nil {
		s.fail(w, r, errmodel.Validation("invalid_body", err.Error(), nil))
		return
	}
	var req saveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, errmodel.Validation("invalid_body", err.Error(), nil))
		return
	}
	if req.Kind == "" {
		req.Kind = store.KindPermanent
	}

	opts := cache.SaveOptions{Kind: req.Kind}
	if req.TTLMs != nil {
		ttl := time.Duration(*req.TTLMs) * time.Millisecond
		opts.TTL = &ttl
	}
	p, err := s.cache.Save(r.Context(), r.PathValue("key"), requestValue(req.Value), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// requestValue maps a JSON string onto its text so it is stored verbatim;
// any other JSON value is stored as its encoding.
func requestValue(raw json.RawMessage) any {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	if string(raw) == "null" {
		return nil
	}
	return raw
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var err error
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		err = s.cache.RemoveAllVersions(r.Context(), key)
	} else {
		err = s.cache.Remove(r.Context(), key)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	versions, err := s.cache.ListVersions(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if versions == nil {
		versions = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "versions": versions})
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	version, err := strconv.ParseInt(r.PathValue("version"), 10, 64)
	if err != nil || version < 1 {
		s.fail(w, r, errmodel.Validation("invalid_version", "version must be a positive integer", map[string]any{"version": r.PathValue("version")}))
		return
	}
	p, ok, err := s.cache.GetVersion(r.Context(), key, version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, errmodel.NotFound("version not found", map[string]any{"key": key, "version": version}))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) diffVersions(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	q := r.URL.Query()
	from, ferr := strconv.ParseInt(q.Get("from"), 10, 64)
	to, terr := strconv.ParseInt(q.Get("to"), 10, 64)
	if ferr != nil || terr != nil || from < 1 || to < 1 {
		s.fail(w, r, errmodel.Validation("invalid_version", "from and to must be positive integers", map[string]any{"from": q.Get("from"), "to": q.Get("to")}))
		return
	}
	diff, ok, err := s.cache.Diff(r.Context(), key, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, errmodel.NotFound("version not found", map[string]any{"key": key, "from": from, "to": to}))
		return
	}
	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, diff)
}

func (s *Server) prune(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.PruneExpired(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := settings.Load(r.Context(), s.cache)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validate(s.schemas.settings, body); err != nil {
		s.fail(w, r, errmodel.Validation("invalid_body", err.Error(), nil))
		return
	}
	st, err := settings.Update(r.Context(), s.cache, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) searchLyrics(w http.ResponseWriter, r *http.Request) {
	if s.lrclib == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	res, err := s.lrclib.Search(r.Context(), lyrics.Query{
		Track:  q.Get("track"),
		Artist: q.Get("artist"),
		Album:  q.Get("album"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res == nil {
		res = []lyrics.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": res})
}

type spicyRequest struct {
	Track   string `json:"track"`
	Captcha string `json:"captcha"`
}

func (s *Server) spicyLyrics(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		http.NotFound(w, r)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validate(s.schemas.spicyLyrics, body); err != nil {
		s.fail(w, r, errmodel.Validation("invalid_body", err.Error(), nil))
		return
	}
	var req spicyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, errmodel.Validation("invalid_body", err.Error(), nil))
		return
	}
	res, err := s.fetcher.Lyrics(r.Context(), req.Track, req.Captcha)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trackId": res.TrackID,
		"cached":  res.Cached,
		"lyrics":  res.Lyrics,
		"text":    lyrics.SplitLines(res.Lyrics),
	})
}

func (s *Server) siteKey(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		http.NotFound(w, r)
		return
	}
	key, cached, err := s.fetcher.SiteKey(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"siteKey": key, "cached": cached})
}

// fail maps err onto the compact error envelope and logs server-side faults.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	ce := apiError(err)
	if status := errmodel.HTTPStatus(ce); status >= 500 {
		s.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	errmodel.WriteHTTP(w, r, ce)
}

func apiError(err error) *errmodel.Error {
	var ce *errmodel.Error
	if errors.As(err, &ce) {
		return ce
	}
	var (
		pe  *lyrics.ProviderError
		ue  *url.Error
		mbe *http.MaxBytesError
	)
	switch {
	case errors.Is(err, cache.ErrEmptyKey), errors.Is(err, cache.ErrInvalidKind), errors.Is(err, lyrics.ErrEmptyTrack):
		return errmodel.Validation("invalid_argument", err.Error(), nil)
	case errors.Is(err, cache.ErrDiffTooLarge):
		return errmodel.Validation("diff_too_large", err.Error(), nil)
	case errors.As(err, &mbe):
		return errmodel.Validation("body_too_large", err.Error(), map[string]any{"limit": mbe.Limit})
	case errors.Is(err, lyrics.ErrCaptchaRequired):
		return errmodel.Policy("captcha_required", err.Error(), nil)
	case errors.Is(err, lyrics.ErrNotFound):
		return errmodel.NotFound(err.Error(), nil)
	case errors.Is(err, lyrics.ErrBodyTooLarge):
		return errmodel.Network("provider_response_too_large", err.Error(), nil, nil)
	case errors.As(err, &pe):
		return errmodel.Network("provider_error", err.Error(), map[string]any{"provider": pe.Provider, "status": pe.Status}, nil)
	case errors.As(err, &ue):
		return errmodel.Network("provider_unreachable", err.Error(), map[string]any{"op": ue.Op}, nil)
	}
	return errmodel.From(err)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
