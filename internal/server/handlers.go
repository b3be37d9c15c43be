package server

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"omrscan/internal/omr"
)

// scan handles POST /scan: a multipart upload with the sheet photo in
// the "file" field plus optional form fields controlling the pipeline.
//
// Validation failures the client can fix (empty upload, malformed
// answer key, undecodable image) return 400; anything else is a 500.
// A malformed manual-corner field is softer: the scan proceeds without
// manual corners and the result carries an invalid_manual_corners
// warning, matching the pipeline's own degradation behavior.
func (s *Server) scan(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(400, gin.H{"error": "empty_file"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(400, gin.H{"error": "empty_file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		c.JSON(400, gin.H{"error": "empty_file"})
		return
	}

	answerKey, err := parseAnswerKey(c.PostForm("answerKey"))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid_answer_key"})
		return
	}

	cornersField := c.PostForm("manualCorners")
	if cornersField == "" {
		// Backward-compat alias still sent by some clients.
		cornersField = c.PostForm("corners")
	}
	manualCorners, cornersInvalid := parseManualCorners(cornersField)

	opts := omr.Options{
		AnswerKey:     answerKey,
		Threshold:     parseFloat(c.PostForm("threshold")),
		XOffset:       parseFloat(c.PostForm("xOffset")),
		YOffset:       parseFloat(c.PostForm("yOffset")),
		Debug:         parseBoolish(c.PostForm("debug")),
		SmartAlign:    parseBoolish(c.PostForm("smartAlign")),
		SkipWarp:      parseBoolish(c.PostForm("skipWarp")),
		ManualCorners: manualCorners,
	}

	result, err := omr.Scan(data, opts)
	if err != nil {
		if errors.Is(err, omr.ErrInvalidImage) {
			c.JSON(400, gin.H{"error": "invalid_image_data"})
			return
		}
		c.JSON(500, gin.H{"error": "scan_failed"})
		return
	}

	if cornersInvalid {
		result.Warnings = append(result.Warnings, omr.WarnInvalidManualCorners)
	}

	c.JSON(200, gin.H{"ok": true, "result": result})
}

// parseAnswerKey decodes the answerKey form field. An empty field
// means no key; malformed JSON or a non-object payload is a client
// error.
func parseAnswerKey(field string) (map[string]string, error) {
	if field == "" {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(field), &raw); err != nil {
		return nil, err
	}

	key := make(map[string]string, len(raw))
	for k, v := range raw {
		switch value := v.(type) {
		case string:
			key[k] = value
		case float64:
			key[k] = strconv.FormatFloat(value, 'f', -1, 64)
		default:
			return nil, errors.New("answer key values must be strings")
		}
	}
	return key, nil
}

// parseManualCorners decodes a JSON [[x,y],[x,y],[x,y],[x,y]] field.
// Returns (nil, true) for any malformed payload so the caller can
// degrade to auto-detection with a warning instead of failing.
func parseManualCorners(field string) ([]omr.Point, bool) {
	if field == "" {
		return nil, false
	}

	var raw [][]float64
	if err := json.Unmarshal([]byte(field), &raw); err != nil {
		return nil, true
	}
	if len(raw) != 4 {
		return nil, true
	}

	corners := make([]omr.Point, 4)
	for i, pt := range raw {
		if len(pt) != 2 {
			return nil, true
		}
		corners[i] = omr.Point{X: pt[0], Y: pt[1]}
	}
	return corners, false
}

// parseBoolish accepts the boolean-ish encodings clients send for
// flags: "true"/"false", "1"/"0", case-insensitive.
func parseBoolish(field string) bool {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "true", "1":
		return true
	default:
		return false
	}
}

func parseFloat(field string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0
	}
	return v
}
