package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/tattoostencil/studio/internal/store"
)

const (
	MaxUploadBytes = 10 * 1024 * 1024

	// Used when the payload cannot be decoded far enough to read its header.
	fallbackWidth  = 1024
	fallbackHeight = 768

	uploadURLPrefix = "/uploads/"
)

var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

var extensionsByType = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/webp": {".webp"},
}

type UploadInput struct {
	Data         []byte
	OriginalName string
	MimeType     string
}

type UploadService struct {
	dbStore *store.SQLiteStore
	dir     string
	logger  *zap.Logger
}

func NewUploadService(db *store.SQLiteStore, dir string, logger *zap.Logger) (*UploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	return &UploadService{dbStore: db, dir: dir, logger: logger}, nil
}

func (s *UploadService) Dir() string {
	return s.dir
}

// Save validates the payload, writes it under a fresh name and records it.
// The file is removed again if the record cannot be written.
func (s *UploadService) Save(ctx context.Context, ownerID string, in UploadInput) (*store.Image, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: no file uploaded", ErrInvalidInput)
	}
	if len(in.Data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds the %d MB limit", ErrInvalidInput, MaxUploadBytes/(1024*1024))
	}
	if !slices.Contains(AllowedImageTypes, in.MimeType) {
		return nil, fmt.Errorf("%w: invalid file type, only JPEG, PNG, and WebP are allowed", ErrInvalidInput)
	}

	filename := uuid.NewString() + extensionFor(in.MimeType, in.OriginalName)
	path := filepath.Join(s.dir, filename)
	if err := writeNew(path, in.Data); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	width, height := dimensions(in.Data)
	img := &store.Image{
		OwnerID:  ownerID,
		URL:      uploadURLPrefix + filename,
		Filename: filename,
		Size:     int64(len(in.Data)),
		Width:    width,
		Height:   height,
		Meta: map[string]string{
			"mimetype":     in.MimeType,
			"originalName": in.OriginalName,
		},
	}
	if err := s.dbStore.CreateImage(ctx, img); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("Failed to remove orphaned upload", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, err
	}

	s.logger.Info("Stored upload",
		zap.String("user_id", ownerID),
		zap.String("image_id", img.ID),
		zap.Int64("size", img.Size),
		zap.Int("width", width),
		zap.Int("height", height))
	return img, nil
}

func (s *UploadService) List(ctx context.Context, ownerID string) ([]store.Image, error) {
	return s.dbStore.GetUserImages(ctx, ownerID)
}

// Get returns the image only when it belongs to ownerID; anything else is
// reported as not found.
func (s *UploadService) Get(ctx context.Context, ownerID, imageID string) (*store.Image, error) {
	img, err := s.dbStore.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if img.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return img, nil
}

// Read loads the stored bytes of an owned image for forwarding to a model.
func (s *UploadService) Read(ctx context.Context, ownerID, imageID string) (*store.Image, *ImageAttachment, error) {
	img, err := s.Get(ctx, ownerID, imageID)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(img.Filename)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: image file missing", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to read image file: %w", err)
	}

	mimeType := img.Meta["mimetype"]
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return img, &ImageAttachment{Data: data, MimeType: mimeType}, nil
}

// Delete removes the record and its file. Edits and chat messages that point
// at the image are left in place.
func (s *UploadService) Delete(ctx context.Context, ownerID, imageID string) error {
	img, err := s.Get(ctx, ownerID, imageID)
	if err != nil {
		return err
	}
	if err := s.dbStore.DeleteImage(ctx, img.ID, ownerID); err != nil {
		return err
	}
	path := filepath.Join(s.dir, filepath.Base(img.Filename))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Failed to remove image file", zap.String("path", path), zap.Error(err))
	}
	return nil
}

func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// extensionFor keeps the client's extension when it matches the media type.
func extensionFor(mimeType, originalName string) string {
	exts := extensionsByType[mimeType]
	ext := strings.ToLower(filepath.Ext(originalName))
	if slices.Contains(exts, ext) {
		return ext
	}
	if len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return fallbackWidth, fallbackHeight
	}
	return cfg.Width, cfg.Height
}
