// Package receiver accepts inbound file uploads over HTTP and persists
// them under a caller-controlled download directory.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"godrop/models"
	"godrop/storage"
)

const (
	// DefaultHTTPPort is used when no port override exists.
	DefaultHTTPPort = 8080
	// copyBufferSize bounds how much of an upload is in memory at once.
	copyBufferSize = 32 * 1024
	// shutdownGrace bounds how long Stop waits for in-flight requests.
	shutdownGrace = 3 * time.Second
)

// Identity describes the local device for the info endpoint.
type Identity struct {
	DeviceID   string
	DeviceName string
	LocalIP    func() string
}

// Options controls the receiver.
type Options struct {
	HTTPPort int

	// DownloadDir is resolved per upload, so the destination may change
	// at runtime without restarting the receiver.
	DownloadDir func() string

	Identity Identity
	Store    *storage.Store
	Logger   *zerolog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.HTTPPort == 0 {
		out.HTTPPort = DefaultHTTPPort
	}
	if out.Logger == nil {
		nop := zerolog.Nop()
		out.Logger = &nop
	}
	return out
}

func (o Options) validate() error {
	if o.DownloadDir == nil {
		return errors.New("download directory accessor is required")
	}
	if o.HTTPPort < 0 || o.HTTPPort > 65535 {
		return errors.New("http port must be in 0..65535")
	}
	return nil
}

// Receiver is the HTTP server that accepts uploads.
type Receiver struct {
	options Options

	listener net.Listener
	server   *http.Server

	events chan models.FileRecord

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
	wg        sync.WaitGroup
}

// New creates a receiver with option defaults applied.
func New(options Options) (*Receiver, error) {
	opts := options.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Receiver{
		options: opts,
		events:  make(chan models.FileRecord, 64),
	}, nil
}

// Start binds the listener and begins serving. It is idempotent; repeated
// calls return the first outcome.
func (r *Receiver) Start() error {
	r.startOnce.Do(func() {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", r.options.HTTPPort))
		if err != nil {
			r.startErr = fmt.Errorf("bind http port %d: %w", r.options.HTTPPort, err)
			return
		}

		mux := http.NewServeMux()
		mux.HandleFunc("POST /upload", r.handleUpload)
		mux.HandleFunc("GET /api/info", r.handleInfo)
		mux.HandleFunc("GET /api/files", r.handleFiles)
		mux.HandleFunc("GET /api/download", r.handleDownload)

		r.listener = listener
		r.server = &http.Server{Handler: mux}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.options.Logger.Warn().Err(err).Msg("receiver serve loop ended")
			}
		}()
	})
	return r.startErr
}

// Stop shuts the listener down. In-flight requests get a short grace
// period but are not guaranteed to finish.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		if r.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = r.server.Shutdown(ctx)
		}
		r.wg.Wait()
		close(r.events)
	})
}

// Events provides one record per completed upload.
func (r *Receiver) Events() <-chan models.FileRecord {
	return r.events
}

// Port returns the actual bound HTTP port.
func (r *Receiver) Port() int {
	if r.listener == nil {
		return r.options.HTTPPort
	}
	if addr, ok := r.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return r.options.HTTPPort
}

func (r *Receiver) handleUpload(w http.ResponseWriter, req *http.Request) {
	reader, err := req.MultipartReader()
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "multipart body required",
		})
		return
	}

	part, err := firstFilePart(reader)
	if err != nil {
		r.options.Logger.Warn().Err(err).Msg("upload body unreadable")
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "malformed multipart body",
		})
		return
	}
	if part == nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "no file part",
		})
		return
	}
	defer part.Close()

	filename := sanitizeFilename(part.FileName())

	dir := r.options.DownloadDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		r.options.Logger.Error().Err(err).Str("dir", dir).Msg("create download directory failed")
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "cannot create download directory",
		})
		return
	}

	destPath, file, err := createDestination(dir, filename)
	if err != nil {
		r.options.Logger.Error().Err(err).Msg("create destination file failed")
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "cannot create destination file",
		})
		return
	}

	size, err := io.CopyBuffer(file, part, make([]byte, copyBufferSize))
	closeErr := file.Close()
	if err != nil || closeErr != nil {
		if err == nil {
			err = closeErr
		}
		_ = os.Remove(destPath)
		r.options.Logger.Error().Err(err).Str("path", destPath).Msg("write upload failed")
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "write failed",
		})
		return
	}

	record := models.FileRecord{
		FileID:     models.NewFileID(),
		Filename:   filepath.Base(destPath),
		Filesize:   size,
		Filetype:   guessContentType(filename),
		StoredPath: destPath,
		Direction:  models.DirectionReceive,
		PeerName:   remoteHost(req.RemoteAddr),
		Timestamp:  time.Now().UnixMilli(),
	}

	if r.options.Store != nil {
		if err := r.options.Store.SaveFileRecord(record); err != nil {
			// The bytes are already on disk; a catalogue miss is not
			// worth failing the transfer for.
			r.options.Logger.Warn().Err(err).Str("file_id", record.FileID).Msg("catalogue write failed")
		}
	}

	r.options.Logger.Info().
		Str("file_id", record.FileID).
		Str("filename", record.Filename).
		Int64("size", record.Filesize).
		Msg("file received")

	select {
	case r.events <- record:
	default:
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"fileId":  record.FileID,
	})
}

func (r *Receiver) handleInfo(w http.ResponseWriter, req *http.Request) {
	ip := ""
	if r.options.Identity.LocalIP != nil {
		ip = r.options.Identity.LocalIP()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deviceId":   r.options.Identity.DeviceID,
		"deviceName": r.options.Identity.DeviceName,
		"ip":         ip,
		"httpPort":   r.Port(),
	})
}

func (r *Receiver) handleFiles(w http.ResponseWriter, req *http.Request) {
	type fileEntry struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Size      int64  `json:"size"`
		Time      int64  `json:"time"`
		Direction string `json:"direction"`
	}

	entries := make([]fileEntry, 0)
	if r.options.Store != nil {
		records, err := r.options.Store.ListFiles("")
		if err != nil {
			r.options.Logger.Warn().Err(err).Msg("list files failed")
			respondJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   "catalogue unavailable",
			})
			return
		}
		for _, record := range records {
			entries = append(entries, fileEntry{
				ID:        record.FileID,
				Name:      record.Filename,
				Size:      record.Filesize,
				Time:      record.Timestamp,
				Direction: record.Direction,
			})
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"files": entries})
}

func (r *Receiver) handleDownload(w http.ResponseWriter, req *http.Request) {
	fileID := req.URL.Query().Get("id")
	if fileID == "" || r.options.Store == nil {
		http.NotFound(w, req)
		return
	}

	record, err := r.options.Store.GetFileByID(fileID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.options.Logger.Warn().Err(err).Str("file_id", fileID).Msg("download lookup failed")
		}
		http.NotFound(w, req)
		return
	}
	if record.Direction != models.DirectionReceive {
		http.NotFound(w, req)
		return
	}
	if _, err := os.Stat(record.StoredPath); err != nil {
		http.NotFound(w, req)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Filename))
	http.ServeFile(w, req, record.StoredPath)
}

// firstFilePart returns the first part carrying a filename, or nil when
// the body has none.
func firstFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// sanitizeFilename reduces a client-supplied filename to a bare base name
// so it can never escape the download directory.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." || name == "/" {
		return "received_" + time.Now().Format("20060102_150405")
	}
	return name
}

// createDestination opens a fresh file under dir, inserting a random
// suffix before the extension when the preferred name already exists.
// Existing files are never overwritten.
func createDestination(dir, filename string) (string, *os.File, error) {
	candidate := filename
	for attempt := 0; attempt < 10; attempt++ {
		destPath := filepath.Join(dir, candidate)
		file, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return destPath, file, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, fmt.Errorf("create %q: %w", destPath, err)
		}

		ext := filepath.Ext(filename)
		stem := strings.TrimSuffix(filename, ext)
		candidate = stem + "_" + models.NewFileID() + ext
	}
	return "", nil, fmt.Errorf("no free destination name for %q in %q", filename, dir)
}

func guessContentType(filename string) string {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
