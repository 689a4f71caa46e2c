// Package api wraps the advx backend REST surface: authentication, admin
// resources, access mappings and the dashboard. Payloads are validated before
// dispatch; responses are returned as opaque JSON.
package api

import (
	"github.com/advancex/advx/internal/common/httpclient"
)

// Client groups the typed wrappers over one dispatcher.
type Client struct {
	Auth      *Auth
	Admin     *Admin
	Access    *Access
	Dashboard *Dashboard
}

func New(d httpclient.Dispatcher) *Client {
	return &Client{
		Auth: &Auth{d: d},
		Admin: &Admin{
			Users:    newResource[UserInput](d, "/admin/users"),
			Outlets:  newResource[OutletInput](d, "/admin/outlets"),
			Services: newResource[ServiceInput](d, "/admin/services"),
		},
		Access: &Access{
			OutletServices: &Mappings{r: newResource[OutletServiceMapping](d, "/access/outlet-service-mappings")},
			UserOutlets:    &Mappings{r: newResource[UserOutletMapping](d, "/access/user-outlet-mappings")},
			UserServices:   &Mappings{r: newResource[UserServiceMapping](d, "/access/user-service-mappings")},
		},
		Dashboard: &Dashboard{d: d},
	}
}
