package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omrscan/internal/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(&config.Config{Port: "0", Mode: config.ModeLocal}, "test")
}

// sheetUpload builds a multipart request body with the given file bytes
// and extra form fields.
func sheetUpload(t *testing.T, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if file != nil {
		fw, err := mw.CreateFormFile("file", "sheet.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

// tinySheetPNG renders a small blank sheet; enough for the handler
// round trip without exercising detection.
func tinySheetPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 130))
	for y := 0; y < 130; y++ {
		for x := 0; x < 100; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 240, G: 240, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	payload := decodeJSON(t, rec)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, config.ModeLocal, payload["mode"])
	assert.Equal(t, "test", payload["version"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestVersionEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeJSON(t, rec)
	assert.Equal(t, "omr-scan", payload["name"])
	assert.Equal(t, "test", payload["version"])
}

func TestScan_MissingFile(t *testing.T) {
	s := newTestServer(t)
	body, contentType := sheetUpload(t, nil, map[string]string{"skipWarp": "true"})

	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_file", decodeJSON(t, rec)["error"])
}

func TestScan_UndecodableImage(t *testing.T) {
	s := newTestServer(t)
	body, contentType := sheetUpload(t, []byte("definitely not a png"), nil)

	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_image_data", decodeJSON(t, rec)["error"])
}

func TestScan_InvalidAnswerKey(t *testing.T) {
	s := newTestServer(t)
	body, contentType := sheetUpload(t, tinySheetPNG(t), map[string]string{
		"answerKey": "{not json",
	})

	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_answer_key", decodeJSON(t, rec)["error"])
}

func TestScan_OK(t *testing.T) {
	s := newTestServer(t)
	body, contentType := sheetUpload(t, tinySheetPNG(t), map[string]string{
		"skipWarp":  "true",
		"answerKey": `{"1": "A", "2": 3}`,
	})

	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	payload := decodeJSON(t, rec)
	assert.Equal(t, true, payload["ok"])

	result, ok := payload["result"].(map[string]any)
	require.True(t, ok, "result missing from payload")

	details, ok := result["details"].([]any)
	require.True(t, ok)
	assert.Len(t, details, 156)

	warnings, ok := result["warnings"].([]any)
	require.True(t, ok)
	assert.Contains(t, warnings, "warp_skipped_by_user")
}

func TestScan_MalformedCornersDegrade(t *testing.T) {
	s := newTestServer(t)
	body, contentType := sheetUpload(t, tinySheetPNG(t), map[string]string{
		"skipWarp":      "true",
		"manualCorners": "[[1,2],[3,4]]",
	})

	req := httptest.NewRequest(http.MethodPost, "/scan", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(s, req)

	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeJSON(t, rec)["result"].(map[string]any)
	warnings := result["warnings"].([]any)
	assert.Contains(t, warnings, "invalid_manual_corners")
}

func TestParseAnswerKey(t *testing.T) {
	key, err := parseAnswerKey(`{"q_1": "A", "2": 4}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q_1": "A", "2": "4"}, key)

	key, err = parseAnswerKey("")
	require.NoError(t, err)
	assert.Nil(t, key)

	_, err = parseAnswerKey(`{"q_1": ["A"]}`)
	assert.Error(t, err)

	_, err = parseAnswerKey(`[1, 2]`)
	assert.Error(t, err)
}

func TestParseManualCorners(t *testing.T) {
	corners, invalid := parseManualCorners(`[[1,2],[3,4],[5,6],[7,8]]`)
	assert.False(t, invalid)
	require.Len(t, corners, 4)
	assert.Equal(t, 5.0, corners[2].X)

	for _, field := range []string{"junk", "[[1,2]]", "[[1],[2],[3],[4]]"} {
		corners, invalid = parseManualCorners(field)
		assert.True(t, invalid, field)
		assert.Nil(t, corners, field)
	}

	corners, invalid = parseManualCorners("")
	assert.False(t, invalid)
	assert.Nil(t, corners)
}

func TestParseBoolish(t *testing.T) {
	assert.True(t, parseBoolish("true"))
	assert.True(t, parseBoolish("TRUE"))
	assert.True(t, parseBoolish(" 1 "))
	assert.False(t, parseBoolish("false"))
	assert.False(t, parseBoolish(""))
	assert.False(t, parseBoolish("yes"))
}
