package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"
)

// ErrInvalidUpload is returned when an upload cannot be decoded.
var ErrInvalidUpload = errors.New("invalid upload")

// Upload is the JSON email accepted by the upload endpoint.
type Upload struct {
	Name      string `json:"name"`   // subject
	Sender    string `json:"sender"` // sender address
	Email     string `json:"email"`  // body
	Recipient string `json:"recipient,omitempty"`
}

// Request converts the upload to an ingest request received now.
func (u Upload) Request() Request {
	return Request{
		Sender:     u.Sender,
		Recipient:  u.Recipient,
		Subject:    u.Name,
		Body:       u.Email,
		ReceivedAt: time.Now().UTC(),
	}
}

// ParseUpload reads an upload request. The body is either the JSON email
// itself or multipart form data carrying the JSON email in the "file" part
// and PDFs in "attachments" parts. Anything above maxBytes fails with
// ErrTooLarge.
func ParseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (Request, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return parseMultipart(r, maxBytes)
	}

	var u Upload
	if err := decodeUpload(r.Body, &u); err != nil {
		return Request{}, err
	}
	return u.Request(), nil
}

func parseMultipart(r *http.Request, maxBytes int64) (Request, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return Request{}, sizeError(err)
	}
	defer r.MultipartForm.RemoveAll()

	var u Upload
	if fh := firstFile(r.MultipartForm, "file"); fh != nil {
		f, err := fh.Open()
		if err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		err = decodeUpload(f, &u)
		f.Close()
		if err != nil {
			return Request{}, err
		}
	} else {
		u = Upload{
			Name:      r.FormValue("name"),
			Sender:    r.FormValue("sender"),
			Email:     r.FormValue("email"),
			Recipient: r.FormValue("recipient"),
		}
	}

	req := u.Request()
	for _, fh := range r.MultipartForm.File["attachments"] {
		f, err := fh.Open()
		if err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return Request{}, sizeError(err)
		}
		req.Attachments = append(req.Attachments, File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return req, nil
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if files := form.File[field]; len(files) > 0 {
		return files[0]
	}
	return nil
}

func decodeUpload(r io.Reader, u *Upload) error {
	if err := json.NewDecoder(r).Decode(u); err != nil {
		if errors.Is(sizeError(err), ErrTooLarge) {
			return ErrTooLarge
		}
		return fmt.Errorf("%w: invalid JSON format", ErrInvalidUpload)
	}
	return nil
}

func sizeError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, maxErr.Limit)
	}
	if errors.Is(err, multipart.ErrMessageTooLarge) {
		return ErrTooLarge
	}
	return fmt.Errorf("%w: %v", ErrInvalidUpload, err)
}
