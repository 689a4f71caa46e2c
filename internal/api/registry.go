package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/advancex/advx/internal/common/httpclient"
)

// EndpointName identifies a registered endpoint.
type EndpointName string

const (
	Users                 EndpointName = "users"
	Outlets               EndpointName = "outlets"
	Services              EndpointName = "services"
	OutletServiceMappings EndpointName = "outlet-service-mappings"
	UserOutletMappings    EndpointName = "user-outlet-mappings"
	UserServiceMappings   EndpointName = "user-service-mappings"
	DashboardStats        EndpointName = "dashboard-stats"
	DashboardActivities   EndpointName = "dashboard-activities"
	DashboardWidgets      EndpointName = "dashboard-widgets"
)

var endpointNames = []EndpointName{
	Users,
	Outlets,
	Services,
	OutletServiceMappings,
	UserOutletMappings,
	UserServiceMappings,
	DashboardStats,
	DashboardActivities,
	DashboardWidgets,
}

// GetFunc reads an endpoint with the given query parameters.
type GetFunc func(ctx context.Context, params httpclient.Params) (json.RawMessage, error)

// CreateFunc creates a resource and returns the created resource's data.
type CreateFunc func(ctx context.Context, payload any) (json.RawMessage, error)

// Endpoint describes a named backend resource. A nil Get or Create means the
// endpoint does not support that operation.
type Endpoint struct {
	Name   EndpointName
	Path   string
	Get    GetFunc
	Create CreateFunc
}

// Registry is the fixed set of endpoints known to the client.
type Registry struct {
	endpoints map[EndpointName]Endpoint
}

// NewRegistry registers every endpoint against c.
func NewRegistry(c *Client) *Registry {
	eps := []Endpoint{
		{Name: Users, Path: c.Admin.Users.Path(), Get: c.Admin.Users.List, Create: c.Admin.Users.Create},
		{Name: Outlets, Path: c.Admin.Outlets.Path(), Get: c.Admin.Outlets.List, Create: c.Admin.Outlets.Create},
		{Name: Services, Path: c.Admin.Services.Path(), Get: c.Admin.Services.List, Create: c.Admin.Services.Create},
		{Name: OutletServiceMappings, Path: c.Access.OutletServices.Path(), Get: c.Access.OutletServices.List, Create: c.Access.OutletServices.Create},
		{Name: UserOutletMappings, Path: c.Access.UserOutlets.Path(), Get: c.Access.UserOutlets.List, Create: c.Access.UserOutlets.Create},
		{Name: UserServiceMappings, Path: c.Access.UserServices.Path(), Get: c.Access.UserServices.List, Create: c.Access.UserServices.Create},
		{Name: DashboardStats, Path: PathDashboardStats, Get: c.Dashboard.Stats},
		{Name: DashboardActivities, Path: PathDashboardActivities, Get: c.Dashboard.Activities},
		{Name: DashboardWidgets, Path: PathDashboardWidgets, Create: c.Dashboard.CreateWidget},
	}
	r := &Registry{endpoints: make(map[EndpointName]Endpoint, len(eps))}
	for _, ep := range eps {
		r.endpoints[ep.Name] = ep
	}
	return r
}

func (r *Registry) Lookup(name EndpointName) (Endpoint, bool) {
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Names lists the registered endpoints in a stable order.
func (r *Registry) Names() []EndpointName {
	names := make([]EndpointName, 0, len(r.endpoints))
	for _, n := range endpointNames {
		if _, ok := r.endpoints[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Parse resolves a user-supplied endpoint name. Case and underscores are
// tolerated.
func Parse(s string) (EndpointName, error) {
	n := EndpointName(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, known := range endpointNames {
		if n == known {
			return n, nil
		}
	}
	return "", apperrors.Invalid(fmt.Sprintf("unknown endpoint %q", s),
		apperrors.ValidationError{Field: "endpoint", Value: s, ErrStr: "not a registered endpoint"})
}
