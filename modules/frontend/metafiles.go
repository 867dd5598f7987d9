package frontend

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/videx-project/videx/pkg/api"
	"github.com/videx-project/videx/pkg/meta"
)

// metaFileParamRe guards the two query parameters that end up in a file
// name.
var metaFileParamRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func (f *Frontend) metaFilePath(r *http.Request) (string, error) {
	db := r.URL.Query().Get("db_name")
	ipPort := r.URL.Query().Get("files_server_ip_port")
	if !metaFileParamRe.MatchString(db) {
		return "", errors.Wrapf(meta.ErrValidation, "bad db_name %q", db)
	}
	if !metaFileParamRe.MatchString(ipPort) {
		return "", errors.Wrapf(meta.ErrValidation, "bad files_server_ip_port %q", ipPort)
	}
	return filepath.Join(f.cfg.MetaDir, fmt.Sprintf("metadata_%s_%s.json", ipPort, db)), nil
}

// SaveMetadataHandler stores a metadata document, merging its top-level
// keys into any existing file so the statistic maps can be uploaded
// independently.
func (f *Frontend) SaveMetadataHandler(w http.ResponseWriter, r *http.Request) {
	path, err := f.metaFilePath(r)
	if err != nil {
		f.handleError(w, r, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, f.cfg.MaxRequestBodyBytes)
	defer body.Close()

	incoming := map[string]jsoniter.RawMessage{}
	if err := jsoniter.NewDecoder(body).Decode(&incoming); err != nil {
		f.handleError(w, r, errors.Wrap(meta.ErrValidation, err.Error()))
		return
	}

	doc := map[string]jsoniter.RawMessage{}
	if existing, err := os.ReadFile(path); err == nil {
		if err := jsoniter.Unmarshal(existing, &doc); err != nil {
			f.handleError(w, r, errors.Wrapf(err, "existing metadata file %s is corrupt", filepath.Base(path)))
			return
		}
	}
	for k, v := range incoming {
		doc[k] = v
	}

	buf, err := jsoniter.Marshal(doc)
	if err != nil {
		f.handleError(w, r, err)
		return
	}
	if err := os.MkdirAll(f.cfg.MetaDir, 0o755); err != nil {
		f.handleError(w, r, err)
		return
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		f.handleError(w, r, err)
		return
	}
	writeResponse(w, api.OK(map[string]string{"file": filepath.Base(path)}))
}

// GetMetadataHandler serves a stored metadata document verbatim.
func (f *Frontend) GetMetadataHandler(w http.ResponseWriter, r *http.Request) {
	path, err := f.metaFilePath(r)
	if err != nil {
		f.handleError(w, r, err)
		return
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "metadata file not found", http.StatusNotFound)
			return
		}
		f.handleError(w, r, err)
		return
	}
	w.Header().Set(api.HeaderContentType, api.HeaderAcceptJSON)
	_, _ = w.Write(buf)
}
