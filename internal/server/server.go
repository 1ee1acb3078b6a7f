// Package server exposes grading over HTTP.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"omr-grader/internal/answerkey"
	"omr-grader/internal/batch"
	sheetimage "omr-grader/internal/image"
	"omr-grader/internal/layout"
	"omr-grader/internal/report"
	"omr-grader/internal/scoring"
	"omr-grader/internal/sheet"
	"omr-grader/internal/storage"
	"omr-grader/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxUploadMemory = 32 << 20
	requestTimeout  = 5 * time.Minute
)

// Options configures a Service. DB and Store are optional; without them
// batch history and archiving are disabled.
type Options struct {
	DB       *gorm.DB
	Store    storage.ObjectStore
	Bucket   string
	Layout   *layout.Layout // Default layout when a request names none
	Batch    batch.Options
	DebugDir string
}

type Service struct {
	opts Options
}

func NewService(opts Options) *Service {
	if opts.Layout == nil {
		opts.Layout = layout.Standard()
	}
	return &Service{opts: opts}
}

func (s *Service) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Get("/layouts", RestHandler(s.ListLayouts))
	r.Get("/templates/{layout}.png", FileHandler(s.Template))

	r.Post("/grade", FileHandler(s.Grade))

	r.Get("/batches", RestHandler(s.ListBatches))
	r.Get("/batches/{batch_id}", RestHandler(s.GetBatch))
	r.Delete("/batches/{batch_id}", RestHandler(s.DeleteBatch))
	r.Get("/batches/{batch_id}/report", FileHandler(s.GetReport))
	r.Get("/batches/{batch_id}/sheets", RestHandler(s.ListArchivedSheets))
}

// NewRouter returns the service routes behind the standard middleware.
func NewRouter(s *Service) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", batchIDHeader, failedHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/api/v1", s.AddRoutes)

	return r
}

// NewHTTPServer wraps the router in a server listening on port.
func NewHTTPServer(s *Service, port int) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: NewRouter(s),
	}
}

const (
	batchIDHeader = "X-Batch-Id"
	failedHeader  = "X-Sheets-Failed"
)

// Archived objects live under <batch id>/report/ and <batch id>/sheets/.
func reportPrefix(batchID string) string { return batchID + "/report/" }

func sheetsPrefix(batchID string) string { return batchID + "/sheets/" }

func (s *Service) Health(r *http.Request) (any, error) {
	return HealthResponse{Status: "ok"}, nil
}

func (s *Service) ListLayouts(r *http.Request) (any, error) {
	var infos []LayoutInfo
	for _, name := range layout.List() {
		l := layout.Get(name)
		infos = append(infos, LayoutInfo{
			Name:        l.Name(),
			Description: l.Description,
			Rows:        l.Rows,
			Cols:        l.Cols,
			Questions:   l.Answers.Questions,
			Choices:     l.Answers.Choices,
		})
	}
	return infos, nil
}

// Template renders a blank sheet for a registered layout.
func (s *Service) Template(r *http.Request) (*File, error) {
	name := chi.URLParam(r, "layout")
	l := layout.Get(name)
	if l == nil {
		return nil, CodedErrorf(http.StatusNotFound, "layout '%s' not found", name)
	}

	page := sheet.Render(l, sheet.Fill{})
	defer page.Close()

	data, err := sheet.EncodePNG(page)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error encoding template: %v", err)
	}

	return &File{Name: name + ".png", ContentType: "image/png", Data: data}, nil
}

// Grade reads a multipart upload of sheet images and an answer key, grades
// the batch and responds with the xlsx report.
func (s *Service) Grade(r *http.Request) (*File, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	l, err := s.requestLayout(r)
	if err != nil {
		return nil, err
	}

	key, err := requestKey(r)
	if err != nil {
		return nil, err
	}

	uploads := r.MultipartForm.File["sheets"]
	if len(uploads) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no sheet images uploaded")
	}

	dir, err := os.MkdirTemp("", "omr-upload-*")
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating upload directory: %v", err)
	}
	defer os.RemoveAll(dir)

	paths, err := saveUploads(dir, uploads)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error saving uploads: %v", err)
	}

	// Each batch gets its own debug directory so concurrent requests with
	// the same file names keep their overlays apart.
	batchOpts := s.opts.Batch
	batchOpts.ID = uuid.New()
	debugDir := ""
	if s.opts.DebugDir != "" {
		debugDir = filepath.Join(s.opts.DebugDir, batchOpts.ID.String())
	}

	coordinator := batch.NewCoordinator(sheet.NewProcessor(l, debugDir), batchOpts)
	outcome, err := coordinator.Run(r.Context(), sheetimage.ExpandSources(paths))
	if err != nil {
		if errors.Is(err, batch.ErrNoResults) {
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error grading batch: %v", err)
	}

	rows := scoring.Score(outcome.Results, key)
	title := reportTitle(r, outcome.ID.String())
	rep := report.Build(title, key, rows)

	encoder := report.XLSXEncoder{}
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, rep); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error encoding report: %v", err)
	}
	name := "results_" + title + encoder.Extension()

	if s.opts.Store != nil {
		if err := s.archive(r, outcome.ID.String(), paths, name, rep, encoder); err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "error archiving batch: %v", err)
		}
	}

	if s.opts.DB != nil {
		if _, err := store.SaveBatch(r.Context(), s.opts.DB, title, l.Name(), outcome, rows); err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "error saving batch: %v", err)
		}
	}

	slog.Info("batch graded", "batch_id", outcome.ID, "title", title,
		"sheets", len(outcome.Results), "failed", len(outcome.Failures))

	return &File{
		Name:        name,
		ContentType: encoder.ContentType(),
		Data:        buf.Bytes(),
		Headers: map[string]string{
			batchIDHeader: outcome.ID.String(),
			failedHeader:  strconv.Itoa(len(outcome.Failures)),
		},
	}, nil
}

// archive stores the uploaded images and the report under the batch id.
func (s *Service) archive(r *http.Request, batchID string, paths []string, reportName string, rep *report.Report, enc report.Encoder) error {
	ctx := r.Context()
	if err := s.opts.Store.CreateBucket(ctx, s.opts.Bucket); err != nil {
		return err
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		err = s.opts.Store.PutObject(ctx, s.opts.Bucket, sheetsPrefix(batchID)+filepath.Base(p), f)
		f.Close()
		if err != nil {
			return err
		}
	}

	sink := &report.ObjectSink{
		Store:   s.opts.Store,
		Bucket:  s.opts.Bucket,
		Key:     reportPrefix(batchID) + reportName,
		Encoder: enc,
	}
	return sink.Write(ctx, rep)
}

func (s *Service) requestLayout(r *http.Request) (*layout.Layout, error) {
	name := r.FormValue("layout")
	if name == "" {
		return s.opts.Layout, nil
	}
	l := layout.Get(name)
	if l == nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unknown layout '%s'", name)
	}
	return l, nil
}

// requestKey reads the key from the answer_key file, falling back to the
// exam_answers JSON form.
func requestKey(r *http.Request) (*answerkey.Key, error) {
	var (
		key *answerkey.Key
		err error
	)

	if files := r.MultipartForm.File["answer_key"]; len(files) > 0 {
		f, openErr := files[0].Open()
		if openErr != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "unable to read answer key: %v", openErr)
		}
		defer f.Close()
		key, err = answerkey.Parse(f)
	} else if form := r.FormValue("exam_answers"); form != "" {
		key, err = answerkey.FromForm([]byte(form))
	} else {
		return nil, CodedErrorf(http.StatusBadRequest, "an answer_key file or exam_answers form is required")
	}

	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}
	if key.Len() == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "answer key is empty")
	}
	return key, nil
}

// saveUploads writes each upload into dir. Clashing names get a numeric
// prefix so every sheet keeps its own file.
func saveUploads(dir string, uploads []*multipart.FileHeader) ([]string, error) {
	seen := make(map[string]bool)
	paths := make([]string, 0, len(uploads))

	for i, fh := range uploads {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) || name == "" {
			name = fmt.Sprintf("sheet_%d", i+1)
		}
		base := name
		for n := i + 1; seen[name]; n++ {
			name = fmt.Sprintf("%d_%s", n, base)
		}
		seen[name] = true

		dst := filepath.Join(dir, name)
		if err := saveUpload(dst, fh); err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func saveUpload(filename string, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

var unsafeTitleChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// reportTitle joins the teacher, date and class form fields, falling back
// to the batch id.
func reportTitle(r *http.Request, fallback string) string {
	var parts []string
	for _, field := range []string{"teacher_name", "exam_date", "class"} {
		v := strings.TrimSpace(r.FormValue(field))
		if v == "" {
			continue
		}
		v = strings.Trim(unsafeTitleChars.ReplaceAllString(v, "-"), "-")
		if v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, "_")
}

func (s *Service) ListBatches(r *http.Request) (any, error) {
	if s.opts.DB == nil {
		return nil, CodedErrorf(http.StatusNotImplemented, "batch history is disabled")
	}

	batches, err := store.ListBatches(r.Context(), s.opts.DB)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing batches")
	}

	res := make([]BatchSummary, 0, len(batches))
	for _, b := range batches {
		res = append(res, convertBatch(b))
	}
	return res, nil
}

func (s *Service) GetBatch(r *http.Request) (any, error) {
	if s.opts.DB == nil {
		return nil, CodedErrorf(http.StatusNotImplemented, "batch history is disabled")
	}

	id, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}

	b, err := store.GetBatch(r.Context(), s.opts.DB, id)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "batch not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving batch")
	}

	return convertBatchDetail(*b)
}

func (s *Service) DeleteBatch(r *http.Request) (any, error) {
	if s.opts.DB == nil && s.opts.Store == nil {
		return nil, CodedErrorf(http.StatusNotImplemented, "batch history is disabled")
	}

	id, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}

	if s.opts.DB != nil {
		if err := store.DeleteBatch(r.Context(), s.opts.DB, id); err != nil {
			if errors.Is(err, store.ErrBatchNotFound) {
				return nil, CodedErrorf(http.StatusNotFound, "batch not found")
			}
			return nil, CodedErrorf(http.StatusInternalServerError, "error deleting batch")
		}
	}

	if s.opts.Store != nil {
		if err := s.opts.Store.DeleteObjects(r.Context(), s.opts.Bucket, id.String()+"/"); err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "error deleting archived files: %v", err)
		}
	}

	slog.Info("batch deleted", "batch_id", id)
	return nil, nil
}

// GetReport serves the report archived when the batch was graded.
func (s *Service) GetReport(r *http.Request) (*File, error) {
	if s.opts.Store == nil {
		return nil, CodedErrorf(http.StatusNotImplemented, "archiving is disabled")
	}

	id, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}

	objects, err := s.opts.Store.ListObjects(r.Context(), s.opts.Bucket, reportPrefix(id.String()))
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing archived reports: %v", err)
	}
	if len(objects) == 0 {
		return nil, CodedErrorf(http.StatusNotFound, "no report archived for batch %s", id)
	}

	obj, err := s.opts.Store.GetObject(r.Context(), s.opts.Bucket, objects[0].Name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "no report archived for batch %s", id)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading archived report: %v", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading archived report: %v", err)
	}

	name := path.Base(objects[0].Name)
	return &File{
		Name:        name,
		ContentType: report.EncoderFor(name).ContentType(),
		Data:        data,
		Headers:     map[string]string{batchIDHeader: id.String()},
	}, nil
}

// ListArchivedSheets lists the uploaded images stored with a batch.
func (s *Service) ListArchivedSheets(r *http.Request) (any, error) {
	if s.opts.Store == nil {
		return nil, CodedErrorf(http.StatusNotImplemented, "archiving is disabled")
	}

	id, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}

	prefix := sheetsPrefix(id.String())
	objects, err := s.opts.Store.ListObjects(r.Context(), s.opts.Bucket, prefix)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing archived sheets: %v", err)
	}

	res := make([]ArchivedSheet, 0, len(objects))
	for _, o := range objects {
		res = append(res, ArchivedSheet{Name: strings.TrimPrefix(o.Name, prefix), Size: o.Size})
	}
	return res, nil
}
