// Package blobstore stores user uploads (avatars, meal plan images and
// appointment attachments) behind a small Store interface with an in-memory
// backend for development and an S3 backend for production.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrObjectExists       = errors.New("object already exists")
	ErrObjectNotFound     = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
	ErrUnknownBucket      = errors.New("unknown bucket")
)

// Bucket names a logical storage area.
type Bucket string

const (
	BucketAvatars          Bucket = "avatars"
	BucketMealPlanImages   Bucket = "meal_plan_images"
	BucketAppointmentFiles Bucket = "appointment_files"
)

var knownBuckets = map[Bucket]bool{
	BucketAvatars:          true,
	BucketMealPlanImages:   true,
	BucketAppointmentFiles: true,
}

// ---------------------------------------------------------------------------
// Upload rules
// ---------------------------------------------------------------------------

// Rule bounds what may be uploaded into a bucket. ContentTypes maps each
// allowed MIME type to the file extension used in object keys.
type Rule struct {
	MaxSize      int64
	ContentTypes map[string]string
}

var (
	AvatarRule = Rule{
		MaxSize:      2 << 20,
		ContentTypes: map[string]string{"image/jpeg": "jpg", "image/png": "png"},
	}
	MealPlanImageRule = Rule{
		MaxSize:      5 << 20,
		ContentTypes: map[string]string{"image/jpeg": "jpg", "image/png": "png"},
	}
	AttachmentRule = Rule{
		MaxSize: 10 << 20,
		ContentTypes: map[string]string{
			"application/pdf": "pdf",
			"image/jpeg":      "jpg",
			"image/png":       "png",
		},
	}
)

// Validate checks size and type and returns the key extension.
func (r Rule) Validate(contentType string, size int64) (string, error) {
	if size <= 0 {
		return "", ErrEmptyFile
	}
	if size > r.MaxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, r.MaxSize)
	}
	ext, ok := r.ContentTypes[normalizeContentType(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	return ext, nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Object describes a stored upload.
type Object struct {
	Bucket      Bucket    `json:"bucket"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for storage backends. Put never overwrites: an
// existing key yields ErrObjectExists.
type Store interface {
	Put(ctx context.Context, bucket Bucket, key, contentType string, body io.Reader, size int64) (*Object, error)
	Delete(ctx context.Context, bucket Bucket, key string) error
}

// Upload is a validated file ready to be stored.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// FromMultipart opens a multipart file. The declared content type is used when
// present, otherwise it is sniffed from the first bytes.
func FromMultipart(fh *multipart.FileHeader) (*Upload, func() error, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open upload: %w", err)
	}

	ct := fh.Header.Get(echo.HeaderContentType)
	var body io.Reader = f
	if ct == "" || ct == "application/octet-stream" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		ct = http.DetectContentType(head[:n])
		body = io.MultiReader(bytes.NewReader(head[:n]), f)
	}

	return &Upload{FileName: fh.Filename, ContentType: ct, Size: fh.Size, Body: body}, f.Close, nil
}

// PutValidated checks u against rule and stores it under
// "<prefix>/<name>.<ext>".
func PutValidated(ctx context.Context, store Store, bucket Bucket, rule Rule, prefix, name string, u *Upload) (*Object, error) {
	ext, err := rule.Validate(u.ContentType, u.Size)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s/%s.%s", prefix, name, ext)
	return store.Put(ctx, bucket, key, normalizeContentType(u.ContentType), u.Body, u.Size)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	object  Object
	content []byte
}

// MemoryStore is a thread-safe Store for development and tests. Objects are
// served back by Handler under baseURL.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]*storedObject
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]*storedObject),
	}
}

func objectPath(bucket Bucket, key string) string {
	return string(bucket) + "/" + key
}

func (s *MemoryStore) Put(_ context.Context, bucket Bucket, key, contentType string, body io.Reader, size int64) (*Object, error) {
	if !knownBuckets[bucket] {
		return nil, ErrUnknownBucket
	}

	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > size {
		return nil, ErrFileTooLarge
	}

	path := objectPath(bucket, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; ok {
		return nil, ErrObjectExists
	}

	obj := Object{
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		URL:         s.baseURL + "/files/" + path,
		CreatedAt:   time.Now().UTC(),
	}
	s.objects[path] = &storedObject{object: obj, content: data}
	out := obj
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, bucket Bucket, key string) error {
	path := objectPath(bucket, key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, path)
	return nil
}

// Get returns the object metadata and a reader over its content.
func (s *MemoryStore) Get(bucket Bucket, key string) (*Object, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.objects[objectPath(bucket, key)]
	if !ok {
		return nil, nil, ErrObjectNotFound
	}
	obj := stored.object
	return &obj, io.NopCloser(bytes.NewReader(stored.content)), nil
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// Handler serves objects from a MemoryStore at /files/:bucket/*. Production
// objects are served by the bucket's public URL instead.
type Handler struct {
	store *MemoryStore
}

func NewHandler(store *MemoryStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/files/:bucket/*", h.handleDownload)
}

func (h *Handler) handleDownload(c echo.Context) error {
	obj, rc, err := h.store.Get(Bucket(c.Param("bucket")), c.Param("*"))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}

// HTTPError maps upload errors to HTTP responses.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrObjectExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store file")
	}
}
