package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		ct      string
		size    int64
		wantExt string
		wantErr error
	}{
		{"avatar png", AvatarRule, "image/png", 1024, "png", nil},
		{"avatar jpg alias", AvatarRule, "image/jpg", 1024, "jpg", nil},
		{"avatar with params", AvatarRule, "image/jpeg; charset=binary", 1024, "jpg", nil},
		{"avatar too big", AvatarRule, "image/png", 2<<20 + 1, "", ErrFileTooLarge},
		{"avatar exact limit", AvatarRule, "image/png", 2 << 20, "png", nil},
		{"avatar pdf rejected", AvatarRule, "application/pdf", 10, "", ErrInvalidContentType},
		{"attachment pdf", AttachmentRule, "application/pdf", 9 << 20, "pdf", nil},
		{"attachment too big", AttachmentRule, "application/pdf", 11 << 20, "", ErrFileTooLarge},
		{"attachment gif", AttachmentRule, "image/gif", 10, "", ErrInvalidContentType},
		{"empty", AttachmentRule, "application/pdf", 0, "", ErrEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := tt.rule.Validate(tt.ct, tt.size)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ext != tt.wantExt {
				t.Errorf("expected ext %q, got %q", tt.wantExt, ext)
			}
		})
	}
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore("http://localhost:8000/")
	obj, err := store.Put(context.Background(), BucketAvatars, "user-1/1.png", "image/png", strings.NewReader("png-bytes"), 9)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.URL != "http://localhost:8000/files/avatars/user-1/1.png" {
		t.Errorf("unexpected url %s", obj.URL)
	}

	got, rc, err := store.Get(BucketAvatars, "user-1/1.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "png-bytes" || got.ContentType != "image/png" {
		t.Errorf("unexpected object %+v %q", got, data)
	}
}

func TestMemoryStore_NoOverwrite(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()
	if _, err := store.Put(ctx, BucketAppointmentFiles, "p/a.pdf", "application/pdf", strings.NewReader("a"), 1); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	_, err := store.Put(ctx, BucketAppointmentFiles, "p/a.pdf", "application/pdf", strings.NewReader("b"), 1)
	if !errors.Is(err, ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}
}

func TestMemoryStore_SizeMismatch(t *testing.T) {
	store := NewMemoryStore("")
	_, err := store.Put(context.Background(), BucketAvatars, "k.png", "image/png", strings.NewReader("longer than declared"), 4)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestMemoryStore_UnknownBucket(t *testing.T) {
	store := NewMemoryStore("")
	_, err := store.Put(context.Background(), Bucket("secrets"), "k", "image/png", strings.NewReader("x"), 1)
	if !errors.Is(err, ErrUnknownBucket) {
		t.Fatalf("expected ErrUnknownBucket, got %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore("")
	ctx := context.Background()
	_, _ = store.Put(ctx, BucketMealPlanImages, "n/1.jpg", "image/jpeg", strings.NewReader("x"), 1)

	if err := store.Delete(ctx, BucketMealPlanImages, "n/1.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, BucketMealPlanImages, "n/1.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStore_ConcurrentPutSameKey(t *testing.T) {
	store := NewMemoryStore("")
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Put(context.Background(), BucketAvatars, "same/key.png", "image/png", strings.NewReader("x"), 1)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected exactly one successful put, got %d", succeeded)
	}
}

func TestPutValidated_RejectsBeforeStoring(t *testing.T) {
	store := NewMemoryStore("")
	u := &Upload{FileName: "big.png", ContentType: "image/png", Size: 3 << 20, Body: strings.NewReader("x")}

	_, err := PutValidated(context.Background(), store, BucketAvatars, AvatarRule, "user-1", "1", u)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("nothing should be stored after a validation failure")
	}
}

func TestPutValidated_BuildsKey(t *testing.T) {
	store := NewMemoryStore("")
	u := &Upload{FileName: "exam.pdf", ContentType: "application/pdf", Size: 3, Body: strings.NewReader("pdf")}

	obj, err := PutValidated(context.Background(), store, BucketAppointmentFiles, AttachmentRule, "patient-9", "abc", u)
	if err != nil {
		t.Fatalf("PutValidated: %v", err)
	}
	if obj.Key != "patient-9/abc.pdf" {
		t.Errorf("unexpected key %s", obj.Key)
	}
}

func multipartHeader(t *testing.T, filename, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatal(err)
	}
	return req.MultipartForm.File["file"][0]
}

func TestFromMultipart_SniffsMissingType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 32))
	fh := multipartHeader(t, "photo", "application/octet-stream", png)

	u, closeFn, err := FromMultipart(fh)
	if err != nil {
		t.Fatalf("FromMultipart: %v", err)
	}
	defer closeFn()

	if u.ContentType != "image/png" {
		t.Errorf("expected sniffed image/png, got %s", u.ContentType)
	}
	data, _ := io.ReadAll(u.Body)
	if !bytes.Equal(data, png) {
		t.Error("sniffing must not consume the body")
	}
}

func TestFromMultipart_UsesDeclaredType(t *testing.T) {
	fh := multipartHeader(t, "exam.pdf", "application/pdf", []byte("%PDF-1.4"))
	u, closeFn, err := FromMultipart(fh)
	if err != nil {
		t.Fatalf("FromMultipart: %v", err)
	}
	defer closeFn()
	if u.ContentType != "application/pdf" || u.FileName != "exam.pdf" {
		t.Errorf("unexpected upload %+v", u)
	}
}

func TestHandler_Download(t *testing.T) {
	store := NewMemoryStore("")
	_, _ = store.Put(context.Background(), BucketAvatars, "u/1.png", "image/png", strings.NewReader("img"), 3)

	e := echo.New()
	NewHandler(store).RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/files/avatars/u/1.png", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "img" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/avatars/u/2.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHTTPError_Mapping(t *testing.T) {
	cases := map[error]int{
		ErrFileTooLarge:       http.StatusRequestEntityTooLarge,
		ErrInvalidContentType: http.StatusUnsupportedMediaType,
		ErrObjectExists:       http.StatusConflict,
		ErrEmptyFile:          http.StatusBadRequest,
		errors.New("boom"):    http.StatusInternalServerError,
	}
	for err, code := range cases {
		he, ok := HTTPError(err).(*echo.HTTPError)
		if !ok || he.Code != code {
			t.Errorf("HTTPError(%v): expected %d, got %v", err, code, he)
		}
	}
}
