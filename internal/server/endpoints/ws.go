package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/hub"
	"github.com/jackzampolin/underwrite/internal/svcctx"
)

// DashboardFeedEndpoint handles GET /ws/documents.
type DashboardFeedEndpoint struct{}

func (e *DashboardFeedEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ws/documents", e.handler
}

func (e *DashboardFeedEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Dashboard feed
//	@Description	Websocket. Send {"type":"subscribe","page":1,"page_size":20,"live_mode":true} to start receiving data_update messages.
//	@Tags			feeds
//	@Success		101
//	@Router			/ws/documents [get]
func (e *DashboardFeedEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	h := svcctx.HubFrom(r.Context())
	if h == nil {
		writeError(w, http.StatusServiceUnavailable, "hub not initialized")
		return
	}
	h.ServeDashboard(w, r)
}

func (e *DashboardFeedEndpoint) Command(getServerURL func() string) *cobra.Command {
	var page, size int
	var frozen bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream dashboard updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			live := !frozen
			req := &hub.Request{Type: hub.ReqSubscribe, Page: &page, LiveMode: &live}
			if size > 0 {
				req.PageSize = &size
			}
			return watch(cmd, getServerURL(), "/ws/documents", req)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&size, "page-size", 0, "Records per page (server default when 0)")
	cmd.Flags().BoolVar(&frozen, "frozen", false, "Stay on the requested page instead of following new documents")
	return cmd
}

// DocumentFeedEndpoint handles GET /ws/documents/{id}.
type DocumentFeedEndpoint struct{}

func (e *DocumentFeedEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ws/documents/{id}", e.handler
}

func (e *DocumentFeedEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Document feed
//	@Description	Websocket carrying document_detail and processing_update messages for one document. Accepts edit_stage_output, rerun_from_stage and continue requests.
//	@Tags			feeds
//	@Param			id	path	string	true	"Document ID"
//	@Success		101
//	@Failure		404	{string}	string
//	@Router			/ws/documents/{id} [get]
func (e *DocumentFeedEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	h := svcctx.HubFrom(r.Context())
	if h == nil {
		writeError(w, http.StatusServiceUnavailable, "hub not initialized")
		return
	}
	h.ServeDocument(w, r, r.PathValue("id"))
}

func (e *DocumentFeedEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <id>",
		Short: "Stream updates for one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd, getServerURL(), "/ws/documents/"+args[0], nil)
		},
	}
}

// watch dials a feed, sends first if set, and prints every message until
// the server closes the connection or the command is interrupted.
func watch(cmd *cobra.Command, serverURL, path string, first *hub.Request) error {
	ctx := cmd.Context()
	u, err := wsURL(serverURL, path)
	if err != nil {
		return err
	}
	c, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")
	c.SetReadLimit(16 << 20)

	if first != nil {
		if err := wsjson.Write(ctx, c, first); err != nil {
			return err
		}
	}
	out := api.NewStream()
	defer out.Close()
	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		var v map[string]any
		if err := json.Unmarshal(msg, &v); err != nil {
			return err
		}
		if err := out.Write(v); err != nil {
			return err
		}
	}
}

func wsURL(serverURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/") + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
