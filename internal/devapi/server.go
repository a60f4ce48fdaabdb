package devapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/optisync/market"
)

const (
	customizedSize = 8
	maxPostBytes   = 32 << 20
	maxPostMemory  = 8 << 20
)

type ctxKey int

const memberKey ctxKey = iota

type Server struct {
	store *Store
	log   *zap.Logger
}

func NewServer(store *Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, log: log}
}

// Router wires every backend route. Routes other than token refresh and the
// availability checks require an access token.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.logRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/members/token", s.refreshToken).Methods(http.MethodPost)
	r.HandleFunc("/members/nickname", s.check("nickname")).Methods(http.MethodGet)
	r.HandleFunc("/members/email", s.check("email")).Methods(http.MethodGet)

	auth := r.NewRoute().Subrouter()
	auth.Use(s.authenticate)
	auth.HandleFunc("/members/me", s.me).Methods(http.MethodGet)
	auth.HandleFunc("/members/me", s.patchMe).Methods(http.MethodPatch)
	auth.HandleFunc("/members/pick/{id:[0-9]+}", s.pickDetail).Methods(http.MethodGet)
	auth.HandleFunc("/artwork", s.feed).Methods(http.MethodGet)
	auth.HandleFunc("/artwork", s.postArtwork).Methods(http.MethodPost)
	auth.HandleFunc("/artwork/customized", s.customized).Methods(http.MethodGet)
	auth.HandleFunc("/artwork/{id:[0-9]+}", s.artwork).Methods(http.MethodGet)
	auth.HandleFunc("/artwork/{id:[0-9]+}/prefer", s.prefer(true)).Methods(http.MethodPost)
	auth.HandleFunc("/artwork/{id:[0-9]+}/prefer", s.prefer(false)).Methods(http.MethodDelete)
	auth.HandleFunc("/auction", s.auctions).Methods(http.MethodGet)
	auth.HandleFunc("/exhibit/{id:[0-9]+}", s.exhibit).Methods(http.MethodGet)
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", w.Header().Get("X-Request-Id")))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, err := s.store.Authenticate(r.Context(), tok)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), memberKey, id)))
	})
}

func memberID(r *http.Request) int64 {
	id, _ := r.Context().Value(memberKey).(int64)
	return id
}

func pathID(r *http.Request) int64 {
	// route patterns only admit digits
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	access, err := s.store.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market.Token{AccessToken: access})
}

func (s *Server) check(column string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query().Get(column)
		if v == "" {
			http.Error(w, "missing "+column, http.StatusBadRequest)
			return
		}
		// the caller's own value is not a conflict
		var self int64
		if id, err := s.store.Authenticate(r.Context(), strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")); err == nil {
			self = id
		}
		taken, err := s.store.Taken(r.Context(), column, v, self)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if taken {
			s.fail(w, r, ErrConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Member(r.Context(), memberID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) patchMe(w http.ResponseWriter, r *http.Request) {
	var p market.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	m, err := s.store.PatchMember(r.Context(), memberID(r), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) pickDetail(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.ArtistDetail(r.Context(), memberID(r), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err1 := strconv.Atoi(q.Get("page"))
	size, err2 := strconv.Atoi(q.Get("size"))
	if err1 != nil || err2 != nil || page < 0 || size <= 0 || size > 100 {
		http.Error(w, "bad paging", http.StatusBadRequest)
		return
	}
	p, err := s.store.Feed(r.Context(), memberID(r), page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) postArtwork(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPostBytes)
	if err := r.ParseMultipartForm(maxPostMemory); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	p, err := market.ReadArtworkPost(r.MultipartForm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a, err := s.store.CreateArtwork(r.Context(), memberID(r), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("artwork posted", zap.Int64("artwork_id", a.ID), zap.Int64("artist_id", memberID(r)))
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) customized(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Customized(r.Context(), memberID(r), customizedSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market.ArtworkList{Artworks: list})
}

func (s *Server) artwork(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Artwork(r.Context(), memberID(r), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) prefer(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.store.SetPrefer(r.Context(), memberID(r), pathID(r), on)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) auctions(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Auctions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) exhibit(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Exhibit(r.Context(), memberID(r), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, "already taken", http.StatusConflict)
	case errors.Is(err, market.ErrInvalidPost):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get("X-Request-Id")),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
