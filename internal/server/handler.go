package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/howard-nolan/docchat/internal/apperr"
	"github.com/howard-nolan/docchat/internal/chat"
	"github.com/howard-nolan/docchat/internal/document"
	"github.com/howard-nolan/docchat/internal/provider"
)

// User-facing error messages. The browser client shows these verbatim, so
// they stay in the language it was written for. Upstream detail never
// reaches the response body; it is logged instead.
const (
	msgChatFailed     = "调用 OpenAI /api/chat 失败"
	msgDeepSeekFailed = "调用 DeepSeek API 失败"
	msgParseFailed    = "PDF 解析或 AI 调用失败"
	msgOnlyPDF        = "只支持 PDF 文件"
	msgNoFile         = "未接收到 PDF 文件"
	msgBadRequest     = "请求格式错误"
	msgTooLarge       = "文件过大"
	msgNotFound       = "文件不存在"
	msgUnknownModel   = "不支持的模型"
	msgUploadFailed   = "文件上传失败"
)

// uploadField is the multipart field the client sends the PDF in.
const uploadField = "pdf"

// multipartOverhead is how many bytes beyond uploads.max_bytes a request
// body may carry for boundaries and part headers.
const multipartOverhead = 1 << 20

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type parseRequest struct {
	Filename string `json:"filename"`
	Question string `json:"question"`
	Model    string `json:"model"`
}

type answerResponse struct {
	Result string `json:"result"`
}

type uploadResponse struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth responds with a simple JSON status indicating the server
// is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleChat handles POST /api/chat: an ungrounded question to the gpt
// provider, optionally naming a model.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadRequest})
		return
	}

	res, err := s.chat.Ask(r.Context(), string(provider.GPT), req.Message, chat.WithModel(req.Model))
	if err != nil {
		s.fail(w, r, err, msgChatFailed)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Result: res.Text})
}

// handleDeepSeek handles POST /api/deepseek. The model is fixed by
// configuration; a model field in the body is ignored.
func (s *Server) handleDeepSeek(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadRequest})
		return
	}

	res, err := s.chat.Ask(r.Context(), string(provider.DeepSeek), req.Message)
	if err != nil {
		s.fail(w, r, err, msgDeepSeekFailed)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Result: res.Text})
}

// handleUpload handles POST /api/upload. The first file in the "pdf" field
// is streamed straight into the store, so nothing is buffered in memory or
// in a temp directory.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if limit := s.cfg.Uploads.MaxBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoFile})
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgNoFile})
			return
		}
		if err != nil {
			s.failUpload(w, r, err, true)
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		body := &bodyReader{r: part}
		doc, err := s.store.Save(body, part.FileName(), part.Header.Get("Content-Type"))
		part.Close()
		if err != nil {
			s.failUpload(w, r, err, body.err != nil)
			return
		}

		s.logger.Info("document uploaded",
			"stored_name", doc.StoredName,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeJSON(w, http.StatusOK, uploadResponse{
			Filename: doc.StoredName,
			Path:     "/uploads/" + doc.StoredName,
		})
		return
	}
}

// handleParsePDF handles POST /api/parse-pdf: extract the named upload's
// text (cached) and ask the selected provider about it.
func (s *Server) handleParsePDF(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadRequest})
		return
	}

	// An unknown model is rejected before the document is parsed.
	if err := s.chat.Supports(req.Model); err != nil {
		s.fail(w, r, err, msgParseFailed)
		return
	}

	text, err := s.texts.Text(r.Context(), req.Filename, s.store.Open)
	if err != nil {
		s.fail(w, r, err, msgParseFailed)
		return
	}

	res, err := s.chat.Ask(r.Context(), req.Model, req.Question, chat.WithDocument(text))
	if err != nil {
		s.fail(w, r, err, msgParseFailed)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Result: res.Text})
}

// handleUploadedFile serves GET /uploads/{name}.
func (s *Server) handleUploadedFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.Path(chi.URLParam(r, "name"))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
			return
		}
		s.fail(w, r, err, msgNotFound)
		return
	}

	w.Header().Set("Content-Type", document.ContentTypePDF)
	http.ServeFile(w, r, path)
}

// bodyReader remembers the first error reading the uploaded part, so a
// truncated request can be told apart from a failing disk.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF && b.err == nil {
		b.err = err
	}
	return n, err
}

// failUpload reports a failed upload. Oversized bodies surface either from
// the multipart reader or from inside Save, so both are checked here.
// badBody marks errors caused by a malformed or truncated request body.
func (s *Server) failUpload(w http.ResponseWriter, r *http.Request, err error, badBody bool) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || apperr.Is(err, apperr.KindInvalidInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgTooLarge})
		return
	}
	if badBody || errors.Is(err, io.ErrUnexpectedEOF) {
		err = apperr.New(apperr.KindInvalidInput, "server.upload", err)
	}
	s.fail(w, r, err, msgUploadFailed)
}

// fail logs err and writes the JSON error for its kind. Client mistakes
// get a 400 with a message naming the problem; everything else gets a 500
// with the endpoint's generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, generic string) {
	status, msg := classify(err, generic)

	kind := apperr.KindOf(err)
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", kind,
		"request_id", middleware.GetReqID(r.Context()),
	}

	switch {
	case kind == apperr.KindUpstream:
		// The dispatcher already logged the provider error in full.
		s.logger.Warn("request failed", attrs...)
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", append(attrs, "err", err)...)
	default:
		s.logger.Warn("request failed", append(attrs, "err", err)...)
	}

	writeJSON(w, status, errorResponse{Error: msg})
}

// classify maps an error onto an HTTP status and a user-facing message.
func classify(err error, generic string) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest, msgBadRequest
	case apperr.KindUnsupportedMediaType:
		return http.StatusBadRequest, msgOnlyPDF
	case apperr.KindNotFound:
		return http.StatusBadRequest, msgNotFound
	case apperr.KindConfiguration:
		return http.StatusBadRequest, msgUnknownModel
	default:
		return http.StatusInternalServerError, generic
	}
}

// writeJSON sets the content type, writes status and encodes v.
// Headers must be set before WriteHeader, which locks them in.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
