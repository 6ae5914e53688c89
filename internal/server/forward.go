package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfeidau/platform-gateway/internal/apperror"
	"github.com/wolfeidau/platform-gateway/internal/command"
)

var wildcardPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?:\.\.\.)?\}`)

// pathParams lists the wildcard names in a ServeMux pattern.
func pathParams(pattern string) []string {
	matches := wildcardPattern.FindAllStringSubmatch(pattern, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// queryPayload flattens query parameters; repeated keys become lists.
func queryPayload(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k, vs := range q {
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		out[k] = list
	}
	return out
}

// buildPayload merges query parameters, the JSON body and path parameters,
// later sources winning. A non-object body is kept under "body".
func buildPayload(r *http.Request, params []string, maxBody int64) (map[string]any, error) {
	payload := queryPayload(r.URL.Query())

	if hasBody(r) {
		body, err := readJSON(r, maxBody)
		if err != nil {
			return nil, err
		}
		switch b := body.(type) {
		case map[string]any:
			for k, v := range b {
				payload[k] = v
			}
		case nil:
		default:
			payload["body"] = b
		}
	}

	for _, name := range params {
		payload[name] = r.PathValue(name)
	}

	return payload, nil
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

func readJSON(r *http.Request, maxBody int64) (any, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.HasSuffix(mediaType, "json") {
			return nil, apperror.Validation("content type must be application/json", nil)
		}
	}

	var body any
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytes):
			return nil, err
		case errors.Is(err, io.EOF):
			return nil, nil
		default:
			return nil, apperror.Validation("request body is not valid JSON", nil)
		}
	}
	return body, nil
}

// decodeJSON decodes the body into out, rejecting unknown fields.
func decodeJSON(r *http.Request, maxBody int64, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return apperror.Validation(fmt.Sprintf("invalid request body: %v", err), nil)
	}
	return nil
}

func successStatus(method string) int {
	if method == http.MethodPost {
		return http.StatusCreated
	}
	return http.StatusOK
}

// forward serves a route by sending its command with the merged payload.
func (s *Server) forward(route command.Route) http.Handler {
	params := pathParams(route.Pattern)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := buildPayload(r, params, s.cfg.MaxBodyBytes)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		var reply json.RawMessage
		if err := s.platform.Call(r.Context(), route.Command, payload, &reply); err != nil {
			WriteError(w, r, err)
			return
		}

		switch route.Kind {
		case command.KindRaw:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			if len(reply) == 0 {
				reply = json.RawMessage("null")
			}
			_, _ = w.Write(reply)
		case command.KindDownload:
			writeFile(w, r, reply)
		default:
			var data any = reply
			if len(reply) == 0 {
				data = nil
			}
			WriteData(w, successStatus(r.Method), data)
		}
	})
}

// FilePayload is a binary file as returned by the platform service.
type FilePayload struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName"`
}

func writeFile(w http.ResponseWriter, r *http.Request, reply json.RawMessage) {
	var file FilePayload
	if err := json.Unmarshal(reply, &file); err != nil || file.Content == "" {
		WriteError(w, r, apperror.Upstream(http.StatusBadGateway, "platform returned no file content", nil))
		return
	}

	content, err := base64.StdEncoding.DecodeString(file.Content)
	if err != nil {
		WriteError(w, r, apperror.Upstream(http.StatusBadGateway, "platform returned malformed file content", nil))
		return
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	fileName := file.FileName
	if fileName == "" {
		fileName = "download"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// upload reads the multipart "file" part and forwards it base64 encoded
// together with the other form values and path parameters.
func (s *Server) upload(route command.Route) http.Handler {
	params := pathParams(route.Pattern)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				WriteError(w, r, err)
				return
			}
			WriteError(w, r, apperror.Validation("request must be multipart/form-data", nil))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, r, apperror.Validation("file is required", map[string]string{"file": "file is required"}))
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			WriteError(w, r, fmt.Errorf("failed to read upload: %w", err))
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = http.DetectContentType(content)
		}

		payload := queryPayload(url.Values(r.MultipartForm.Value))
		for name, v := range queryPayload(r.URL.Query()) {
			if _, ok := payload[name]; !ok {
				payload[name] = v
			}
		}
		for _, name := range params {
			payload[name] = r.PathValue(name)
		}
		payload["file"] = FilePayload{
			Content:     base64.StdEncoding.EncodeToString(content),
			ContentType: contentType,
			FileName:    header.Filename,
		}

		var reply json.RawMessage
		if err := s.platform.Call(r.Context(), route.Command, payload, &reply); err != nil {
			WriteError(w, r, err)
			return
		}

		WriteData(w, http.StatusCreated, reply)
	})
}
