package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capturedAt = time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

func TestHTTPSinkContract(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc123","received_at":"2026-06-21T12:00:01Z","size_bytes":4}`))
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/api/webcam/image", "secret", nil)
	r, err := sink.Put(context.Background(), Payload{
		Image:      []byte{0xff, 0xd8, 0xff, 0xd9},
		CapturedAt: capturedAt.In(time.FixedZone("CEST", 2*3600)),
		Location:   "LFRK",
		IsDay:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.Equal(t, "image/jpeg", got.Header.Get("Content-Type"))
	assert.Equal(t, "2026-06-21T12:00:00Z", got.Header.Get("X-Capture-Timestamp"))
	assert.Equal(t, "LFRK", got.Header.Get("X-Location"))
	assert.Equal(t, "true", got.Header.Get("X-Is-Day"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, body)

	assert.Equal(t, Receipt{ID: "abc123", ReceivedAt: "2026-06-21T12:00:01Z", SizeBytes: 4}, r)
}

func TestHTTPSinkStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	_, err := NewHTTPSink(srv.URL, "k", nil).Put(context.Background(), Payload{IsDay: false})
	var st *StatusError
	require.True(t, errors.As(err, &st))
	assert.Equal(t, http.StatusTooManyRequests, st.StatusCode)
	assert.Equal(t, 7*time.Second, st.RetryAfter)
	assert.Equal(t, "slow down", st.Body)
	assert.Equal(t, OutcomeRetryable, Classify(err))
}

func TestHTTPSinkThroughUploader(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ok","received_at":"2026-06-21T12:00:01Z","size_bytes":1}`))
	}))
	defer srv.Close()

	u := New(NewHTTPSink(srv.URL, "k", srv.Client()), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil)
	r, err := u.Upload(context.Background(), Payload{Image: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "ok", r.ID)
	assert.Equal(t, 3, calls)
}

func TestHTTPSinkAttemptTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	u := New(NewHTTPSink(srv.URL, "k", srv.Client()), Policy{MaxAttempts: 2, AttemptTimeout: 50 * time.Millisecond}, nil)
	_, err := u.Upload(context.Background(), Payload{Image: []byte{1}})
	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ReasonExhausted, upErr.Reason)
}

func TestS3SinkPutsObjectWithMetadata(t *testing.T) {
	puts := map[string]http.Header{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		puts[r.URL.Path] = r.Header.Clone()
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewS3Sink(S3Options{Endpoint: srv.URL, Bucket: "cams", Region: "us-east-1",
		AccessKey: "ak", SecretKey: "sk", Prefix: "/lfrk/"})
	require.NoError(t, err)

	r, err := sink.Put(context.Background(), Payload{
		Image: []byte{1, 2, 3}, Filename: "webcam-LFRK.jpg", CapturedAt: capturedAt, Location: "LFRK", IsDay: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "lfrk/webcam-LFRK.jpg", r.Path)
	assert.Equal(t, "etag-1", r.ID)

	img, ok := puts["/cams/lfrk/webcam-LFRK.jpg"]
	require.True(t, ok, "image object written")
	assert.Equal(t, "true", img.Get("X-Amz-Meta-Is-Day"))
	assert.Equal(t, "2026-06-21T12:00:00Z", img.Get("X-Amz-Meta-Capture-Timestamp"))
	_, ok = puts["/cams/lfrk/cam.json"]
	assert.True(t, ok, "sidecar written")
}

func TestS3SinkForbiddenIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	}))
	defer srv.Close()

	sink, err := NewS3Sink(S3Options{Endpoint: srv.URL, Bucket: "cams", Region: "us-east-1", AccessKey: "ak", SecretKey: "sk"})
	require.NoError(t, err)
	_, err = sink.Put(context.Background(), Payload{Image: []byte{1}, Filename: "x.jpg", CapturedAt: capturedAt})
	require.Error(t, err)
	assert.Equal(t, OutcomeTerminal, Classify(err))
}

func TestMarshalCamJSON(t *testing.T) {
	raw, err := MarshalCamJSON(Payload{
		CapturedAt: capturedAt,
		IsDay:      false,
		Location:   "LFRK",
		Meta: &Metadata{
			LocationName: "LFRK", Latitude: 48.93, Longitude: -0.15, CameraHeading: "N",
			Interval: 60 * time.Minute, Sunrise: capturedAt.Add(-7 * time.Hour),
			Station: "LFRK", RawMETAR: "METAR LFRK 211200Z 33009KT",
		},
	}, "remote/webcam-LFRK.jpg")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "night", doc["day_night_mode"])
	assert.Equal(t, "2026-06-21T12:00:00Z", doc["last_update"])
	assert.Equal(t, "2026-06-21T13:00:00Z", doc["next_update"])

	img := doc["images"].([]any)[0].(map[string]any)
	assert.Equal(t, "remote/webcam-LFRK.jpg", img["path"])
	assert.Equal(t, "3600", img["TTL"])
	assert.Equal(t, "2026-06-21T05:00:00Z", img["sunrise"])
	assert.Nil(t, img["sunset"])
	metar := img["metar"].(map[string]any)
	assert.Equal(t, true, metar["enabled"])
	assert.Nil(t, metar["raw_taf"])
}

func TestSFTPClassification(t *testing.T) {
	assert.Equal(t, OutcomeTerminal, Classify(classifySSH(errors.New("ssh: handshake failed: ssh: unable to authenticate"))))
	assert.Equal(t, OutcomeRetryable, Classify(classifySSH(errors.New("ssh: handshake failed: EOF"))))
	assert.Equal(t, OutcomeTerminal, Classify(classifyFS(&os.PathError{Op: "mkdir", Path: "/x", Err: os.ErrPermission})))
	assert.Equal(t, OutcomeRetryable, Classify(classifyFS(errors.New("connection lost"))))
}

func TestSanitizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio.local:9000", sanitizeEndpoint(" https://minio.local:9000/bucket "))
	assert.Equal(t, "s3.amazonaws.com", sanitizeEndpoint("s3.amazonaws.com"))
}

func TestSFTPPublicPath(t *testing.T) {
	s, err := NewSFTPSink(SFTPOptions{Host: "h", ImageBaseURL: "https://cdn.example.com/cams/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/cams/a.jpg", s.publicPath("a.jpg"))

	s.opts.ImageBaseURL = ""
	assert.Equal(t, "a.jpg", s.publicPath("a.jpg"))
}

func TestS3SinkSkipsSidecarForSecondaryCopy(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			paths = append(paths, r.URL.Path)
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("ETag", `"etag-2"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewS3Sink(S3Options{Endpoint: srv.URL, Bucket: "cams", Region: "us-east-1", AccessKey: "ak", SecretKey: "sk"})
	require.NoError(t, err)

	_, err = sink.Put(context.Background(), Payload{
		Image: []byte{1, 2, 3}, Filename: "webcam-LFRK-clean.jpg", CapturedAt: capturedAt, Location: "LFRK", NoSidecar: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/cams/webcam-LFRK-clean.jpg"}, paths)
}
