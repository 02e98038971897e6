package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/record-files/pkg/recordfiles"
	"github.com/tendant/record-files/pkg/recordfiles/derived"
	"github.com/tendant/record-files/pkg/recordfiles/render"
	"github.com/tendant/record-files/pkg/recordfiles/repo/memory"
	memorystorage "github.com/tendant/record-files/pkg/recordfiles/storage/memory"
)

const testKey = "secret"

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	hook := derived.New(derived.WithThumbnailRenderer(render.NewThumbnailRenderer()))
	svc, err := recordfiles.New(
		recordfiles.WithRepository(memory.New()),
		recordfiles.WithBlobStore("memory", memorystorage.New()),
		recordfiles.WithHooks(hook),
	)
	require.NoError(t, err)
	return NewRouter(svc, "/api", []string{testKey}, nil)
}

func do(t *testing.T, router http.Handler, method, path, key string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createRecord(t *testing.T, router http.Handler) RecordResponse {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/records", testKey, strings.NewReader(`{"metadata":{"title":"scan"}}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[RecordResponse](t, rec)
}

func pngBody(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 400, 200))))
	return buf.Bytes()
}

func keysOf(resp FilesResponse) []string {
	keys := make([]string, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func TestRecordsAPI_UploadFlow(t *testing.T) {
	router := setupRouter(t)
	record := createRecord(t, router)
	assert.Equal(t, "scan", record.Metadata["title"])
	assert.Equal(t, "/api/records/"+record.ID, record.Links["self"])
	base := "/records/" + record.ID

	rec := do(t, router, http.MethodPost, base+"/files", testKey, strings.NewReader(`[{"key":"photo.png"}]`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	initResp := decodeBody[FilesResponse](t, rec)
	require.Len(t, initResp.Entries, 1)
	assert.Equal(t, "pending", initResp.Entries[0].Status)

	rec = do(t, router, http.MethodPut, base+"/files/photo.png/content", testKey, bytes.NewReader(pngBody(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	file := decodeBody[FileResponse](t, rec)
	assert.Equal(t, "image/png", file.MimeType)
	assert.True(t, strings.HasPrefix(file.Checksum, "md5:"))

	rec = do(t, router, http.MethodPost, base+"/files/photo.png/commit", testKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	file = decodeBody[FileResponse](t, rec)
	assert.Equal(t, "completed", file.Status)
	assert.Equal(t, "/api"+base+"/files/photo-png.jpg/content", file.Links["thumbnail"])
	assert.Equal(t, "/api"+base+"/files/photo.png", file.Links["self"])

	rec = do(t, router, http.MethodGet, base+"/files", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[FilesResponse](t, rec)
	assert.Equal(t, []string{"photo-png.jpg", "photo.png"}, keysOf(list))
	assert.NotContains(t, list.Entries[0].Links, "thumbnail")
	assert.Equal(t, "thumbnail", list.Entries[0].Metadata["kind"])

	rec = do(t, router, http.MethodGet, base+"/files/photo-png.jpg/content", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	thumb, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, thumb.Width)
	assert.Equal(t, 100, thumb.Height)

	rec = do(t, router, http.MethodDelete, base+"/files/photo.png", testKey, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, base+"/files", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[FilesResponse](t, rec).Entries)
}

func TestRecordsAPI_Errors(t *testing.T) {
	router := setupRouter(t)
	record := createRecord(t, router)
	base := "/records/" + record.ID

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   string
		status int
		code   string
	}{
		{"anonymous write", http.MethodPost, "/records", "", `{}`, http.StatusForbidden, "forbidden"},
		{"unknown key", http.MethodPost, "/records", "wrong", `{}`, http.StatusUnauthorized, "unauthorized"},
		{"bad record id", http.MethodGet, "/records/not-a-uuid", "", "", http.StatusBadRequest, "bad_request"},
		{"unknown record", http.MethodGet, "/records/" + uuid.NewString(), "", "", http.StatusNotFound, "not_found"},
		{"unknown file", http.MethodGet, base + "/files/missing.pdf", "", "", http.StatusNotFound, "not_found"},
		{"malformed body", http.MethodPost, base + "/files", testKey, `{"key":`, http.StatusBadRequest, "bad_request"},
		{"empty init", http.MethodPost, base + "/files", testKey, `[]`, http.StatusBadRequest, "bad_request"},
		{"invalid key", http.MethodPost, base + "/files", testKey, `[{"key":"../x"}]`, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.key, strings.NewReader(tt.body))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error.Code)
		})
	}
}

func TestRecordsAPI_StateErrors(t *testing.T) {
	router := setupRouter(t)
	record := createRecord(t, router)
	base := "/records/" + record.ID

	rec := do(t, router, http.MethodPost, base+"/files", testKey, strings.NewReader(`[{"key":"a.txt"}]`))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/files", testKey, strings.NewReader(`[{"key":"a.txt"}]`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/files/a.txt/commit", testKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody[ErrorResponse](t, rec).Error.Code)

	rec = do(t, router, http.MethodGet, base+"/files/a.txt/content", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordsAPI_NestedKeysAndMetadata(t *testing.T) {
	router := setupRouter(t)
	record := createRecord(t, router)
	base := "/records/" + record.ID

	rec := do(t, router, http.MethodPost, base+"/files", testKey, strings.NewReader(`[{"key":"dir/notes.txt","metadata":{"lang":"en"}}]`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, base+"/files/dir%2Fnotes.txt", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	file := decodeBody[FileResponse](t, rec)
	assert.Equal(t, "dir/notes.txt", file.Key)
	assert.Equal(t, "en", file.Metadata["lang"])

	rec = do(t, router, http.MethodPut, base+"/files/dir%2Fnotes.txt", testKey, strings.NewReader(`{"metadata":{"lang":"de"}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "de", decodeBody[FileResponse](t, rec).Metadata["lang"])

	rec = do(t, router, http.MethodPut, base, testKey, strings.NewReader(`{"metadata":{"title":"renamed"}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", decodeBody[RecordResponse](t, rec).Metadata["title"])

	rec = do(t, router, http.MethodDelete, base, testKey, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, router, http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyMiddleware_Header(t *testing.T) {
	var got recordfiles.Identity
	handler := APIKeyMiddleware([]string{"k1", "k2"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = recordfiles.IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "k2")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, got.System)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, recordfiles.AnonymousIdentity(), got)
}
