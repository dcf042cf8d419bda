package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/ingest"
	"github.com/jackzampolin/underwrite/internal/store"
	"github.com/jackzampolin/underwrite/internal/svcctx"
)

// CreatedResponse is returned when a document is ingested.
type CreatedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// UploadEndpoint handles POST /api/documents.
type UploadEndpoint struct{}

func (e *UploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *UploadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload an email
//	@Description	Accepts a JSON email {name, sender, email} or multipart form data with the JSON email in "file" and PDFs in "attachments". Processing starts in the background.
//	@Tags			documents
//	@Accept			json,mpfd
//	@Produce		json
//	@Param			request	body		ingest.Upload	true	"Email"
//	@Success		201		{object}	CreatedResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents [post]
func (e *UploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	req, err := ingest.ParseUpload(w, r, maxUploadBytes(r))
	if err != nil {
		writeIngestError(w, err)
		return
	}
	ingestRequest(w, r, req)
}

func (e *UploadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var subject, sender, recipient, bodyFile string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload an email for underwriting",
		Example: `  underwrite api upload --sender broker@example.com --subject "GL quote" --body-file email.txt
  echo "Please quote..." | underwrite api upload --body-file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(bodyFile)
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp CreatedResponse
			err = client.Post(cmd.Context(), "/api/documents", ingest.Upload{
				Name:      subject,
				Sender:    sender,
				Email:     body,
				Recipient: recipient,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Email subject")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender address")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient address")
	cmd.Flags().StringVar(&bodyFile, "body-file", "-", "File holding the email body (- for stdin)")
	return cmd
}

// EventEndpoint handles POST /api/events.
type EventEndpoint struct{}

func (e *EventEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/events", e.handler
}

func (e *EventEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Receive an email CloudEvent
//	@Description	Accepts a com.underwrite.email.received CloudEvent in binary or structured mode.
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	CreatedResponse
//	@Failure		400	{object}	ErrorResponse
//	@Router			/api/events [post]
func (e *EventEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	req, err := ingest.ParseEvent(w, r, maxUploadBytes(r))
	if err != nil {
		writeIngestError(w, err)
		return
	}
	ingestRequest(w, r, req)
}

func ingestRequest(w http.ResponseWriter, r *http.Request, req ingest.Request) {
	svc := svcctx.IngestFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest not initialized")
		return
	}
	doc, err := svc.Ingest(r.Context(), req)
	if err != nil && doc.ID == "" {
		writeIngestError(w, err)
		return
	}
	if err != nil {
		// Stored but not queued; it is picked up on the next resume.
		svcctx.LoggerFrom(r.Context()).Warn("document stored without queueing", "document_id", doc.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: doc.ID, Status: string(doc.Status)})
}

func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ingest.ErrMissingBody), errors.Is(err, ingest.ErrInvalidUpload),
		errors.Is(err, ingest.ErrInvalidAttachment):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func maxUploadBytes(r *http.Request) int64 {
	if mgr := svcctx.ConfigFrom(r.Context()); mgr != nil {
		if n := mgr.Get().Attachments.MaxUploadBytes; n > 0 {
			return n
		}
	}
	return ingest.DefaultMaxBytes
}

func readBody(path string) (string, error) {
	var b []byte
	var err error
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}

// ListDocumentsEndpoint handles GET /api/documents.
type ListDocumentsEndpoint struct{}

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

// ListDocumentsResponse is one page of dashboard records.
type ListDocumentsResponse struct {
	Records    []any `json:"records"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int   `json:"total_count"`
	TotalPages int   `json:"total_pages"`
}

// handler godoc
//
//	@Summary		List documents
//	@Description	Newest first, one page at a time
//	@Tags			documents
//	@Produce		json
//	@Param			page		query		int	false	"Page number (1-based)"
//	@Param			page_size	query		int	false	"Records per page"
//	@Success		200			{object}	ListDocumentsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Router			/api/documents [get]
func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	size, err := queryInt(r, "page_size", defaultPageSize(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if max := maxPageSize(r); size > max {
		size = max
	}

	p, err := st.Snapshot().Page(page, size)
	if err != nil {
		writeFailure(w, err)
		return
	}

	project := svcctx.ProjectFrom(r.Context())
	records := make([]any, len(p.Records))
	for i, doc := range p.Records {
		records[i] = project(doc)
	}
	writeJSON(w, http.StatusOK, ListDocumentsResponse{
		Records:    records,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalCount: p.TotalCount,
		TotalPages: p.TotalPages,
	})
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/documents?page=%d", page)
			if size > 0 {
				path += fmt.Sprintf("&page_size=%d", size)
			}
			var resp ListDocumentsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&size, "page-size", 0, "Records per page (server default when 0)")
	return cmd
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be >= 1", name)
	}
	return n, nil
}

func defaultPageSize(r *http.Request) int {
	if mgr := svcctx.ConfigFrom(r.Context()); mgr != nil {
		if n := mgr.Get().Hub.DefaultPageSize; n > 0 {
			return n
		}
	}
	return 20
}

func maxPageSize(r *http.Request) int {
	if mgr := svcctx.ConfigFrom(r.Context()); mgr != nil {
		if n := mgr.Get().Hub.MaxPageSize; n > 0 {
			return n
		}
	}
	return 100
}

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a document
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	store.Document
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/documents/{id} [get]
func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	doc, err := st.Get(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a document with every stage output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var doc store.Document
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0], &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
}

// RevisionResponse reports the revision a change produced or was queued at.
type RevisionResponse struct {
	ID       string `json:"id"`
	Revision int64  `json:"revision"`
	Status   string `json:"status,omitempty"`
}

// MarkSeenEndpoint handles POST /api/documents/{id}/seen.
type MarkSeenEndpoint struct{}

func (e *MarkSeenEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/seen", e.handler
}

func (e *MarkSeenEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Mark a document as seen
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	RevisionResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/documents/{id}/seen [post]
func (e *MarkSeenEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	doc, err := st.Update(r.Context(), r.PathValue("id"), store.AnyRevision, func(d *store.Document) error {
		d.Seen = true
		return nil
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionResponse{ID: doc.ID, Revision: doc.Revision, Status: string(doc.Status)})
}

func (e *MarkSeenEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "seen <id>",
		Short: "Mark a document as seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RevisionResponse
			if err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/seen", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
