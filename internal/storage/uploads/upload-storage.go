package uploads

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/iamvkosarev/groq-chat/internal/model"
)

const PathPrefix = "/uploads/"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type originKey struct{}

// WithOrigin records the host the current request was addressed to. Absolute
// upload links are resolved only for that host or the public base URL host.
func WithOrigin(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, originKey{}, host)
}

// UploadStorage writes files to a local directory served under PathPrefix.
type UploadStorage struct {
	dir        string
	publicHost string
	clock      func() time.Time
}

func NewUploadStorage(dir string, publicBaseURL string) (*UploadStorage, error) {
	var publicHost string
	if publicBaseURL != "" {
		parsed, err := url.Parse(publicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public base url %s: %w", publicBaseURL, err)
		}
		publicHost = parsed.Host
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return &UploadStorage{
		dir:        dir,
		publicHost: publicHost,
		clock:      time.Now,
	}, nil
}

func (u *UploadStorage) Dir() string {
	return u.dir
}

// Save stores r as "<unix millis>-<name>" and returns the path it is served
// under.
func (u *UploadStorage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%d-%s", u.clock().UnixMilli(), sanitizeName(name))
	f, err := os.OpenFile(filepath.Join(u.dir, filename), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload %s: %w", filename, err)
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write upload %s: %w", filename, err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload %s: %w", filename, err)
	}
	return PathPrefix + filename, nil
}

// Resolve reads back a file from a link returned by Save. Absolute links must
// point at our own host. Anything else is model.ErrNotFound.
func (u *UploadStorage) Resolve(ctx context.Context, link string) (model.MediaFile, error) {
	if err := ctx.Err(); err != nil {
		return model.MediaFile{}, err
	}
	parsed, err := url.Parse(link)
	if err != nil || !strings.HasPrefix(parsed.Path, PathPrefix) {
		return model.MediaFile{}, fmt.Errorf("%w: %s is not an upload link", model.ErrNotFound, link)
	}
	if parsed.Host != "" && !u.isOwnHost(ctx, parsed.Host) {
		return model.MediaFile{}, fmt.Errorf("%w: %s is hosted elsewhere", model.ErrNotFound, link)
	}
	filename := path.Base(parsed.Path)
	if filename != sanitizeName(filename) {
		return model.MediaFile{}, fmt.Errorf("%w: %s is not an upload link", model.ErrNotFound, link)
	}

	data, err := os.ReadFile(filepath.Join(u.dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return model.MediaFile{}, fmt.Errorf("%w: upload %s", model.ErrNotFound, filename)
		}
		return model.MediaFile{}, fmt.Errorf("failed to read upload %s: %w", filename, err)
	}
	return model.MediaFile{
		Name: filename,
		MIME: detectMIME(filename, data),
		Data: data,
	}, nil
}

func (u *UploadStorage) isOwnHost(ctx context.Context, host string) bool {
	if u.publicHost != "" && strings.EqualFold(host, u.publicHost) {
		return true
	}
	origin, _ := ctx.Value(originKey{}).(string)
	return origin != "" && strings.EqualFold(host, origin)
}

func sanitizeName(name string) string {
	name = unsafeNameChars.ReplaceAllString(filepath.Base(name), "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}

func detectMIME(filename string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		mediaType, _, err := mime.ParseMediaType(byExt)
		if err == nil {
			return mediaType
		}
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}
