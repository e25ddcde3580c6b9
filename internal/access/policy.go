// Package access decides who may act on which account. The rules live in
// an embedded Rego module evaluated by Open Policy Agent; the query is
// compiled once at startup and shared read-only by all requests.
package access

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/models"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed policy.rego
var policyModule string

const allowQuery = "data.usermgmt.access.allow"

// Action is an operation subject to authorization.
type Action string

const (
	ActionView         Action = "view"
	ActionListAll      Action = "list_all"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionUploadImage  Action = "upload_image"
	ActionToggleStatus Action = "toggle_status"
	ActionCreateAdmin  Action = "create_admin"
)

// Actor is the authenticated identity making a request.
type Actor struct {
	ID   string
	Role models.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Request describes one authorization decision. Fields lists the account
// fields an update intends to change.
type Request struct {
	Actor    Actor
	Action   Action
	TargetID string
	Fields   []string
}

// Policy evaluates authorization requests.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles the embedded policy.
func NewPolicy(ctx context.Context) (*Policy, error) {
	query, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("policy.rego", policyModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	return &Policy{query: query}, nil
}

// Authorize returns nil when the request is allowed and a Forbidden error
// otherwise.
func (p *Policy) Authorize(ctx context.Context, req Request) error {
	allowed, err := p.allowed(ctx, req)
	if err != nil {
		return err
	}
	if !allowed {
		return common.Forbidden("%s", deniedMessage(req.Action))
	}
	return nil
}

// CanListAll reports whether actor may list every account.
func (p *Policy) CanListAll(ctx context.Context, actor Actor) (bool, error) {
	return p.allowed(ctx, Request{Actor: actor, Action: ActionListAll})
}

func (p *Policy) allowed(ctx context.Context, req Request) (bool, error) {
	fields := req.Fields
	if fields == nil {
		fields = []string{}
	}
	input := map[string]interface{}{
		"actor": map[string]interface{}{
			"id":   req.Actor.ID,
			"role": string(req.Actor.Role),
		},
		"action": string(req.Action),
		"target": map[string]interface{}{
			"id": req.TargetID,
		},
		"fields": fields,
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate access policy: %w", err)
	}
	return rs.Allowed(), nil
}

func deniedMessage(action Action) string {
	switch action {
	case ActionUpdate:
		return "You are not authorized to update this user"
	case ActionDelete:
		return "You are not authorized to delete this user"
	case ActionUploadImage:
		return "You are not authorized to update this user's profile image"
	case ActionToggleStatus:
		return "Admin access required"
	case ActionCreateAdmin:
		return "Only an admin can create admin accounts"
	default:
		return "Forbidden"
	}
}
