// handlers.go holds the method dispatch table. Every handler returns a
// payload or an error; dispatch turns errors into typed error responses
// so a request is never left unanswered.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/courierbot/courier/pkg/courier/channels"
	"github.com/courierbot/courier/pkg/courier/skills"
)

// skillContextFor builds a skill context for a direct gateway invocation,
// using the client id as both conversation and user.
func skillContextFor(c *client) skills.Context {
	return skills.Context{
		Kind:           string(channels.KindWebchat),
		ConversationID: c.id,
		UserID:         c.id,
	}
}

type handlerFunc func(c *client, params json.RawMessage) (any, error)

func (g *Gateway) buildHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"connect":        g.handleConnect,
		"health":         g.handleHealthMethod,
		"status":         g.handleStatusMethod,
		"presence":       g.handlePresence,
		"session.list":   g.handleSessionList,
		"session.get":    g.handleSessionGet,
		"session.clear":  g.handleSessionClear,
		"channel.list":   g.handleChannelList,
		"channel.status": g.handleChannelStatus,
		"send":           g.handleSend,
		"agent":          g.handleAgent,
		"skill.list":     g.handleSkillList,
		"skill.invoke":   g.handleSkillInvoke,
	}
}

type connectParams struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
	Auth         struct {
		Token    string `json:"token,omitempty"`
		Password string `json:"password,omitempty"`
	} `json:"auth"`
}

// handleConnect validates credentials and returns the hello payload with
// a presence snapshot, the current sequence number, and the policy block.
func (g *Gateway) handleConnect(c *client, params json.RawMessage) (any, error) {
	var p connectParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, newProtoError(CodeInvalidParams, "invalid connect params: "+err.Error())
		}
	}

	if g.cfg.AuthEnabled() && !g.checkCredentials(p.Auth.Token, p.Auth.Password) {
		g.logger.Warn("authentication failed", "client", c.id, "name", p.Name)
		return nil, newProtoError(CodeAuthFailed, "invalid token or password")
	}

	c.authenticate(p.Name, p.Role, p.Capabilities)
	g.logger.Info("client authenticated", "client", c.id, "name", p.Name, "role", p.Role)

	return map[string]any{
		"presence": g.presence(),
		"seq":      g.seq.Load(),
		"policy": map[string]any{
			"max_payload_bytes":     g.cfg.MaxPayloadBytes,
			"tick_interval_seconds": g.cfg.TickIntervalSeconds,
		},
	}, nil
}

// checkCredentials accepts either a matching token or a matching
// password. Comparisons are constant-time and empty configured values
// never match.
func (g *Gateway) checkCredentials(token, password string) bool {
	match := 0
	if g.cfg.AuthToken != "" && token != "" {
		match |= subtle.ConstantTimeCompare([]byte(g.cfg.AuthToken), []byte(token))
	}
	if g.cfg.AuthPassword != "" && password != "" {
		match |= subtle.ConstantTimeCompare([]byte(g.cfg.AuthPassword), []byte(password))
	}
	return match == 1
}

func (g *Gateway) handleHealthMethod(*client, json.RawMessage) (any, error) {
	return map[string]any{
		"ok":     true,
		"uptime": time.Since(g.startedAt).String(),
	}, nil
}

func (g *Gateway) handleStatusMethod(*client, json.RawMessage) (any, error) {
	return g.statusPayload(), nil
}

func (g *Gateway) handlePresence(*client, json.RawMessage) (any, error) {
	return g.presence(), nil
}

func (g *Gateway) handleSessionList(*client, json.RawMessage) (any, error) {
	return map[string]any{"sessions": g.core.Sessions().List()}, nil
}

type sessionKeyParams struct {
	Key string `json:"key"`
}

func (g *Gateway) handleSessionGet(_ *client, params json.RawMessage) (any, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, newProtoError(CodeInvalidParams, "session key required")
	}
	sess := g.core.Sessions().Get(p.Key)
	if sess == nil {
		return nil, newProtoError(CodeNotFound, "no session: "+p.Key)
	}
	return map[string]any{
		"session": sess.Snapshot(),
		"history": sess.History(),
		"context": sess.Context(),
	}, nil
}

func (g *Gateway) handleSessionClear(_ *client, params json.RawMessage) (any, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, newProtoError(CodeInvalidParams, "session key required")
	}
	g.core.Sessions().Clear(p.Key)
	return map[string]any{"cleared": p.Key}, nil
}

func (g *Gateway) handleChannelList(*client, json.RawMessage) (any, error) {
	return map[string]any{
		"registered": g.core.Router().List(),
		"known":      channels.Kinds(),
	}, nil
}

type channelStatusParams struct {
	Kind string `json:"kind,omitempty"`
}

func (g *Gateway) handleChannelStatus(_ *client, params json.RawMessage) (any, error) {
	var p channelStatusParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, newProtoError(CodeInvalidParams, "invalid channel.status params: "+err.Error())
		}
	}
	statuses := g.core.Router().Statuses()
	if p.Kind == "" {
		return map[string]any{"channels": statuses}, nil
	}
	status, ok := statuses[channels.Kind(p.Kind)]
	if !ok {
		return nil, newProtoError(CodeNotFound, "no channel: "+p.Kind)
	}
	return map[string]any{"kind": p.Kind, "status": status}, nil
}

type sendParams struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Content string `json:"content"`
}

func (g *Gateway) handleSend(_ *client, params json.RawMessage) (any, error) {
	var p sendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, newProtoError(CodeInvalidParams, "invalid send params: "+err.Error())
	}
	if p.Kind == "" || p.Target == "" || p.Content == "" {
		return nil, newProtoError(CodeInvalidParams, "kind, target, and content required")
	}
	kind := channels.Kind(p.Kind)
	if !kind.Valid() {
		return nil, newProtoError(CodeInvalidParams, "unknown channel kind: "+p.Kind)
	}
	if err := g.core.Router().Send(g.ctx, kind, p.Target, p.Content); err != nil {
		return nil, newProtoError(CodeChannelUnavailable, err.Error())
	}
	return map[string]any{"sent": true}, nil
}

type agentParams struct {
	Kind           string `json:"kind,omitempty"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// handleAgent runs one message through the full routing pipeline on
// behalf of the calling client.
func (g *Gateway) handleAgent(c *client, params json.RawMessage) (any, error) {
	var p agentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, newProtoError(CodeInvalidParams, "invalid agent params: "+err.Error())
	}
	if p.Message == "" {
		return nil, newProtoError(CodeInvalidParams, "message required")
	}
	conversationID := p.ConversationID
	if conversationID == "" {
		conversationID = c.id
	}
	reply, err := g.core.Agent(g.ctx, channels.Kind(p.Kind), conversationID, c.id, p.Message)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	return map[string]any{"reply": reply}, nil
}

func (g *Gateway) handleSkillList(*client, json.RawMessage) (any, error) {
	return map[string]any{"skills": g.core.Skills().List()}, nil
}

type skillInvokeParams struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

func (g *Gateway) handleSkillInvoke(c *client, params json.RawMessage) (any, error) {
	var p skillInvokeParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, newProtoError(CodeInvalidParams, "skill name required")
	}
	result, err := g.core.Skills().Invoke(g.ctx, p.Name, p.Args, skillContextFor(c))
	if err != nil {
		return nil, newProtoError(CodeNotFound, err.Error())
	}
	return map[string]any{"content": result.Content}, nil
}
