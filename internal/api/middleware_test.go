package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log: bufferLogger(buf),
	}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
}

func TestErrorHandler_PanicWithValue(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log: bufferLogger(buf),
	}

	rr := httptest.NewRecorder()
	app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, buf.String(), "boom")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GoChatApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_requestId(t *testing.T) {
	var seen string
	handler := requestId(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestId(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rr.Header().Get(HeaderRequestID))
	})

	t.Run("propagates the client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", rr.Header().Get(HeaderRequestID))
	})

	t.Run("missing from context", func(t *testing.T) {
		_, ok := RequestId(httptest.NewRequest(http.MethodGet, "/", nil).Context())
		assert.False(t, ok)
	})
}

func Test_requestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log: bufferLogger(buf),
	}

	handler := requestId(app.requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTeapot, rr.Code)
	out := buf.String()
	assert.Contains(t, out, "http request")
	assert.Contains(t, out, "request_id=req-42")
	assert.Contains(t, out, "method=GET")
	assert.Contains(t, out, "path=/api/rooms")
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "bytes=15")
}

func Test_logResponseWriter_ImplicitOK(t *testing.T) {
	rr := httptest.NewRecorder()
	lrw := &logResponseWriter{ResponseWriter: rr}

	lrw.Write([]byte("ok"))

	assert.Equal(t, http.StatusOK, lrw.status)
	assert.Equal(t, 2, lrw.bytes)
	assert.Equal(t, rr, lrw.Unwrap())

	_, _, err := lrw.Hijack()
	assert.Error(t, err, "expected recorder not to support hijacking")
}
