package gateway

import (
	"context"
	"fmt"

	"github.com/harun/collabedit/internal/tracing"
	"github.com/harun/collabedit/pkg/presence"
	"github.com/harun/collabedit/pkg/session"
)

var offsetSchema = map[string]interface{}{"type": "integer", "minimum": 0}

var (
	joinSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []interface{}{"name"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
	}
	editSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []interface{}{"content", "cursor"},
		"properties": map[string]interface{}{
			"content":        map[string]interface{}{"type": "string"},
			"cursor":         offsetSchema,
			"selectionStart": offsetSchema,
			"selectionEnd":   offsetSchema,
		},
		"dependencies": map[string]interface{}{
			"selectionStart": []interface{}{"selectionEnd"},
			"selectionEnd":   []interface{}{"selectionStart"},
		},
	}
	selectSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []interface{}{"cursor"},
		"properties": map[string]interface{}{
			"cursor":         offsetSchema,
			"selectionStart": offsetSchema,
			"selectionEnd":   offsetSchema,
		},
		"dependencies": map[string]interface{}{
			"selectionStart": []interface{}{"selectionEnd"},
			"selectionEnd":   []interface{}{"selectionStart"},
		},
	}
	activitySchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 1000},
		},
	}
	projectSchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []interface{}{"offset"},
		"properties": map[string]interface{}{
			"offset": map[string]interface{}{"type": "integer"},
		},
	}
	emptySchema = map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
	}
)

// registerBuiltinMethods registers the session RPC surface
func (s *Server) registerBuiltinMethods() error {
	methods := []struct {
		name    string
		schema  map[string]interface{}
		handler RequestHandler
	}{
		{"session.names", emptySchema, s.handleSessionNames},
		{"session.join", joinSchema, s.handleSessionJoin},
		{"session.leave", emptySchema, s.handleSessionLeave},
		{"session.disconnect", emptySchema, s.handleSessionDisconnect},
		{"session.reconnect", emptySchema, s.handleSessionReconnect},
		{"session.snapshot", emptySchema, s.handleSessionSnapshot},
		{"document.edit", editSchema, s.handleDocumentEdit},
		{"presence.select", selectSchema, s.handlePresenceSelect},
		{"activity.recent", activitySchema, s.handleActivityRecent},
		{"cursor.project", projectSchema, s.handleCursorProject},
	}

	for _, m := range methods {
		if err := s.router.RegisterMethodWithSchema(m.name, m.schema, m.handler); err != nil {
			return err
		}
	}
	return nil
}

func controllerOf(client *Client) (*session.Controller, error) {
	if client == nil || client.Controller == nil {
		return nil, session.ErrNotJoined
	}
	return client.Controller, nil
}

// intParam reads a JSON number already validated as an integer
func intParam(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func selectionParams(params map[string]interface{}) presence.Selection {
	start, okStart := intParam(params, "selectionStart")
	end, okEnd := intParam(params, "selectionEnd")
	if !okStart || !okEnd {
		return presence.NoSelection()
	}
	return presence.RangeSelection(start, end)
}

func (s *Server) handleSessionNames(_ context.Context, client *Client, _ map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"state": ctrl.State(),
		"names": nonNil(ctrl.ExistingNames()),
	}, nil
}

func (s *Server) handleSessionJoin(ctx context.Context, client *Client, params map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}

	name, _ := params["name"].(string)
	p, err := ctrl.SubmitName(ctx, name)
	if err != nil {
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("participant_id", p.ID).
		Str("name", p.DisplayName).
		Msg("Client joined session")

	return map[string]interface{}{
		"state":       ctrl.State(),
		"participant": p,
	}, nil
}

func (s *Server) handleSessionLeave(ctx context.Context, client *Client, _ map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Leave(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"state": ctrl.State()}, nil
}

func (s *Server) handleSessionDisconnect(ctx context.Context, client *Client, _ map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Disconnect(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"state": ctrl.State(), "online": ctrl.Online()}, nil
}

func (s *Server) handleSessionReconnect(ctx context.Context, client *Client, _ map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}
	state, names, err := ctrl.Reconnect(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"state":  state,
		"online": ctrl.Online(),
		"names":  nonNil(names),
	}, nil
}

func (s *Server) handleSessionSnapshot(_ context.Context, client *Client, _ map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}
	return ctrl.Snapshot()
}

func (s *Server) handleDocumentEdit(ctx context.Context, client *Client, params map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}

	content, _ := params["content"].(string)
	cursor, _ := intParam(params, "cursor")
	change := session.TextChange{Content: content, Cursor: cursor}
	if start, ok := intParam(params, "selectionStart"); ok {
		change.SelectionStart = &start
	}
	if end, ok := intParam(params, "selectionEnd"); ok {
		change.SelectionEnd = &end
	}

	result, err := ctrl.Edit(ctx, change)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"revision": result.Document.Revision,
		"length":   result.Document.Length,
		"event":    result.Event,
	}, nil
}

func (s *Server) handlePresenceSelect(ctx context.Context, client *Client, params map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}

	cursor, _ := intParam(params, "cursor")
	return ctrl.Select(ctx, cursor, selectionParams(params))
}

func (s *Server) handleActivityRecent(_ context.Context, client *Client, params map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}

	limit, _ := intParam(params, "limit")
	events, err := ctrl.Activity(limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"events": events}, nil
}

func (s *Server) handleCursorProject(_ context.Context, client *Client, params map[string]interface{}) (interface{}, error) {
	ctrl, err := controllerOf(client)
	if err != nil {
		return nil, err
	}

	offset, ok := intParam(params, "offset")
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("offset must be an integer, got %v", params["offset"])}
	}
	return ctrl.Project(offset)
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
