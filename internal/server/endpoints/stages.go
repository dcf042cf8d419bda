package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/engine"
	"github.com/jackzampolin/underwrite/internal/hub"
	"github.com/jackzampolin/underwrite/internal/store"
	"github.com/jackzampolin/underwrite/internal/svcctx"
)

// EditStageRequest is the body of an edit.
type EditStageRequest struct {
	Output           json.RawMessage `json:"output" swaggertype:"object"`
	ExpectedRevision *int64          `json:"expected_revision"`
}

// EditStageEndpoint handles PUT /api/documents/{id}/stages/{stage}.
type EditStageEndpoint struct{}

func (e *EditStageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/documents/{id}/stages/{stage}", e.handler
}

func (e *EditStageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Edit a stage output
//	@Description	Replaces the output of a completed stage and clears every later stage. The document waits for a rerun or continue.
//	@Tags			stages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Document ID"
//	@Param			stage	path		string				true	"Stage name or index"
//	@Param			request	body		EditStageRequest	true	"New output"
//	@Success		200		{object}	RevisionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/api/documents/{id}/stages/{stage} [put]
func (e *EditStageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	runner := requireRunner(w, r)
	if runner == nil {
		return
	}
	var req EditStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Output) == 0 || req.ExpectedRevision == nil {
		writeError(w, http.StatusBadRequest, "output and expected_revision are required")
		return
	}
	stage, err := runner.Engine().Table().Lookup(r.PathValue("stage"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	// A document that is processing holds its lock; wait it out briefly.
	var doc store.Document
	err = retry.Do(
		func() error {
			var err error
			doc, err = runner.Engine().EditStageOutput(r.Context(), r.PathValue("id"), stage, req.Output, *req.ExpectedRevision)
			return err
		},
		retry.Context(r.Context()),
		retry.Attempts(5),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, engine.ErrLockTimeout) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionResponse{ID: doc.ID, Revision: doc.Revision, Status: string(doc.Status)})
}

func (e *EditStageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var revision int64
	var value, valueFile string
	cmd := &cobra.Command{
		Use:   "edit <id> <stage>",
		Short: "Replace a stage output",
		Example: `  underwrite api edit 3f2a... revenue_estimation --revision 10 --value '{"estimated_annual_revenue":1000000}'
  underwrite api edit 3f2a... 2 --revision 10 --value-file rate.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := value
			if valueFile != "" {
				b, err := os.ReadFile(valueFile)
				if err != nil {
					return fmt.Errorf("read value: %w", err)
				}
				output = string(b)
			}
			if !json.Valid([]byte(output)) {
				return fmt.Errorf("value is not valid JSON")
			}
			client := api.NewClient(getServerURL())
			var resp RevisionResponse
			err := client.Put(cmd.Context(), "/api/documents/"+args[0]+"/stages/"+args[1], EditStageRequest{
				Output:           json.RawMessage(output),
				ExpectedRevision: &revision,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().Int64Var(&revision, "revision", 0, "Expected document revision")
	cmd.Flags().StringVar(&value, "value", "", "New stage output as JSON")
	cmd.Flags().StringVar(&valueFile, "value-file", "", "Read the new stage output from a file")
	cmd.MarkFlagRequired("revision")
	return cmd
}

// RerunRequest is the body of a rerun or continue.
type RerunRequest struct {
	Stage            hub.StageRef `json:"stage,omitempty" swaggertype:"string"`
	ExpectedRevision *int64       `json:"expected_revision"`
}

// RerunEndpoint handles POST /api/documents/{id}/rerun.
type RerunEndpoint struct{}

func (e *RerunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/rerun", e.handler
}

func (e *RerunEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Rerun from a stage
//	@Description	Discards the given stage and everything after it, then reprocesses in the background.
//	@Tags			stages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Document ID"
//	@Param			request	body		RerunRequest	true	"Stage and expected revision"
//	@Success		202		{object}	RevisionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents/{id}/rerun [post]
func (e *RerunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	queueOperation(w, r, true)
}

func (e *RerunEndpoint) Command(getServerURL func() string) *cobra.Command {
	var revision int64
	cmd := &cobra.Command{
		Use:   "rerun <id> <stage>",
		Short: "Rerun a document from a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RevisionResponse
			err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/rerun", RerunRequest{
				Stage:            hub.StageRef(args[1]),
				ExpectedRevision: &revision,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().Int64Var(&revision, "revision", 0, "Expected document revision")
	cmd.MarkFlagRequired("revision")
	return cmd
}

// ContinueEndpoint handles POST /api/documents/{id}/continue.
type ContinueEndpoint struct{}

func (e *ContinueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/continue", e.handler
}

func (e *ContinueEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Continue processing
//	@Description	Resumes a document from its first undefined stage, typically after an edit.
//	@Tags			stages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Document ID"
//	@Param			request	body		RerunRequest	true	"Expected revision"
//	@Success		202		{object}	RevisionResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/documents/{id}/continue [post]
func (e *ContinueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	queueOperation(w, r, false)
}

func (e *ContinueEndpoint) Command(getServerURL func() string) *cobra.Command {
	var revision int64
	cmd := &cobra.Command{
		Use:   "continue <id>",
		Short: "Continue processing a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RevisionResponse
			err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/continue", RerunRequest{
				ExpectedRevision: &revision,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().Int64Var(&revision, "revision", 0, "Expected document revision")
	cmd.MarkFlagRequired("revision")
	return cmd
}

// queueOperation checks the revision up front so a stale request fails
// immediately, then queues a rerun (withStage) or a continue.
func queueOperation(w http.ResponseWriter, r *http.Request, withStage bool) {
	runner := requireRunner(w, r)
	if runner == nil {
		return
	}
	var req RerunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExpectedRevision == nil {
		writeError(w, http.StatusBadRequest, "expected_revision is required")
		return
	}
	id, rev := r.PathValue("id"), *req.ExpectedRevision
	logger := svcctx.LoggerFrom(r.Context()).With("document_id", id)

	if err := runner.Engine().CheckRevision(id, rev); err != nil {
		writeFailure(w, err)
		return
	}
	done := func(_ engine.Result, err error) {
		if err != nil {
			logger.Warn("queued operation failed", "error", err)
		}
	}

	var err error
	if withStage {
		if req.Stage == "" {
			writeError(w, http.StatusBadRequest, "stage is required")
			return
		}
		stage, lerr := runner.Engine().Table().Lookup(string(req.Stage))
		if lerr != nil {
			writeFailure(w, lerr)
			return
		}
		err = runner.Rerun(id, stage, rev, done)
	} else {
		err = runner.Continue(id, rev, done)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RevisionResponse{ID: id, Revision: rev, Status: "queued"})
}

// StageInfo describes one pipeline stage.
type StageInfo struct {
	Index          int      `json:"index"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	InputFields    []string `json:"input_fields,omitempty"`
	DocumentFields []string `json:"document_fields,omitempty"`
	OutputField    string   `json:"output_field"`
	Explains       bool     `json:"explains"`
	Schema         any      `json:"schema" swaggertype:"object"`
}

// ListStagesEndpoint handles GET /api/stages.
type ListStagesEndpoint struct{}

func (e *ListStagesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/stages", e.handler
}

func (e *ListStagesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List pipeline stages
//	@Tags		stages
//	@Produce	json
//	@Success	200	{array}	StageInfo
//	@Router		/api/stages [get]
func (e *ListStagesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	runner := requireRunner(w, r)
	if runner == nil {
		return
	}
	descs := runner.Engine().Table().Descriptors()
	out := make([]StageInfo, len(descs))
	for i, d := range descs {
		out[i] = StageInfo{
			Index:          d.Ordinal,
			Name:           d.Name,
			DisplayName:    d.DisplayName,
			InputFields:    d.InputFields,
			DocumentFields: d.DocumentFields,
			OutputField:    d.OutputField,
			Explains:       d.Explains(),
			Schema:         json.RawMessage(d.Schema),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *ListStagesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List pipeline stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []StageInfo
			if err := client.Get(cmd.Context(), "/api/stages", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
