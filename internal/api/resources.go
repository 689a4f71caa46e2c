package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/advancex/advx/internal/common/httpclient"
)

// Resource is a REST collection with list, create, update and delete.
type Resource struct {
	d     httpclient.Dispatcher
	path  string
	check func(payload any) (any, error)
}

func newResource[T any](d httpclient.Dispatcher, path string) *Resource {
	return &Resource{d: d, path: path, check: checked[T]}
}

// Path is the collection path, without trailing slash.
func (r *Resource) Path() string {
	return r.path
}

// List reads the collection. Query parameters such as skip, limit,
// client_id, grouped and status are passed through verbatim.
func (r *Resource) List(ctx context.Context, params httpclient.Params) (json.RawMessage, error) {
	resp, err := r.d.Get(ctx, r.path+"/", params)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Create posts a new item. The dispatcher applies its fallback prefixes if
// the collection is not found at the configured path.
func (r *Resource) Create(ctx context.Context, payload any) (json.RawMessage, error) {
	body, err := r.check(payload)
	if err != nil {
		return nil, err
	}
	resp, err := r.d.Post(ctx, r.path, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Update replaces the item id. The payload is forwarded without validation,
// since partial updates are allowed.
func (r *Resource) Update(ctx context.Context, id string, payload any) (json.RawMessage, error) {
	p, err := r.item(id)
	if err != nil {
		return nil, err
	}
	resp, err := r.d.Put(ctx, p, payload)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (r *Resource) Delete(ctx context.Context, id string) error {
	p, err := r.item(id)
	if err != nil {
		return err
	}
	_, err = r.d.Delete(ctx, p)
	return err
}

func (r *Resource) item(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperrors.Invalid("missing id", apperrors.ValidationError{Field: "id", ErrStr: "missing required attribute"})
	}
	return r.path + "/" + url.PathEscape(id), nil
}

// Admin holds the tenant's users, outlets and services.
type Admin struct {
	Users    *Resource
	Outlets  *Resource
	Services *Resource
}

// Mappings is an access mapping collection. Mappings are created and deleted,
// never updated.
type Mappings struct {
	r *Resource
}

func (m *Mappings) Path() string {
	return m.r.Path()
}

func (m *Mappings) List(ctx context.Context, params httpclient.Params) (json.RawMessage, error) {
	return m.r.List(ctx, params)
}

func (m *Mappings) Create(ctx context.Context, payload any) (json.RawMessage, error) {
	return m.r.Create(ctx, payload)
}

func (m *Mappings) Delete(ctx context.Context, id string) error {
	return m.r.Delete(ctx, id)
}

// Access holds the outlet-service, user-outlet and user-service mappings.
type Access struct {
	OutletServices *Mappings
	UserOutlets    *Mappings
	UserServices   *Mappings
}
