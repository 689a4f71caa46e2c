package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/advancex/advx/internal/api"
	"github.com/advancex/advx/internal/common/httpclient"
	"github.com/spf13/cobra"
)

// resourceGroup describes one command group over a registered endpoint.
type resourceGroup struct {
	use      string
	aliases  []string
	short    string
	endpoint api.EndpointName
	// clientScoped lists default client_id to the signed-in client
	clientScoped bool
	update       func(c *api.Client) func(ctx context.Context, id string, payload any) (json.RawMessage, error)
	remove       func(c *api.Client) func(ctx context.Context, id string) error
}

var adminResources = []resourceGroup{
	{
		use: "users", aliases: []string{"user"}, short: "Manage users",
		endpoint: api.Users,
		update: func(c *api.Client) func(context.Context, string, any) (json.RawMessage, error) {
			return c.Admin.Users.Update
		},
		remove: func(c *api.Client) func(context.Context, string) error { return c.Admin.Users.Delete },
	},
	{
		use: "outlets", aliases: []string{"outlet"}, short: "Manage outlets",
		endpoint: api.Outlets, clientScoped: true,
		update: func(c *api.Client) func(context.Context, string, any) (json.RawMessage, error) {
			return c.Admin.Outlets.Update
		},
		remove: func(c *api.Client) func(context.Context, string) error { return c.Admin.Outlets.Delete },
	},
	{
		use: "services", aliases: []string{"service"}, short: "Manage services",
		endpoint: api.Services,
		update: func(c *api.Client) func(context.Context, string, any) (json.RawMessage, error) {
			return c.Admin.Services.Update
		},
		remove: func(c *api.Client) func(context.Context, string) error { return c.Admin.Services.Delete },
	},
}

var mappingResources = []resourceGroup{
	{
		use: "outlet-service", short: "Outlet to service mappings",
		endpoint: api.OutletServiceMappings, clientScoped: true,
		remove: func(c *api.Client) func(context.Context, string) error { return c.Access.OutletServices.Delete },
	},
	{
		use: "user-outlet", short: "User to outlet mappings",
		endpoint: api.UserOutletMappings, clientScoped: true,
		remove: func(c *api.Client) func(context.Context, string) error { return c.Access.UserOutlets.Delete },
	},
	{
		use: "user-service", short: "User to service mappings",
		endpoint: api.UserServiceMappings, clientScoped: true,
		remove: func(c *api.Client) func(context.Context, string) error { return c.Access.UserServices.Delete },
	},
}

func newResourceCmd(g resourceGroup) *cobra.Command {
	cmd := &cobra.Command{
		Use:         g.use,
		Aliases:     g.aliases,
		Short:       g.short,
		Annotations: authRequired,
	}
	cmd.AddCommand(newListCmd(g))
	cmd.AddCommand(newCreateCmd(g))
	if g.update != nil {
		cmd.AddCommand(newUpdateCmd(g))
	}
	if g.remove != nil {
		cmd.AddCommand(newDeleteCmd(g))
	}
	return cmd
}

func newMappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mappings",
		Aliases: []string{"mapping"},
		Short:   "Manage access mappings between users, outlets and services",
		Long: `Manage access mappings between users, outlets and services.

Examples:
  advx mappings user-outlet list --grouped
  advx mappings outlet-service create --set outlet_id=101 --set service_id=5
  advx mappings user-service delete 42`,
		Annotations: authRequired,
	}
	for _, g := range mappingResources {
		cmd.AddCommand(newResourceCmd(g))
	}
	return cmd
}

func newListCmd(g resourceGroup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List " + g.use,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			params, err := listParams(cmd, rt, g.clientScoped)
			if err != nil {
				return err
			}
			return fetchAndPrint(cmd, rt, g.endpoint, params)
		},
	}
	cmd.Flags().Int("skip", 0, "Number of items to skip")
	cmd.Flags().Int("limit", 0, "Maximum number of items")
	cmd.Flags().String("client-id", "", "Client to list for (defaults to the signed-in client where applicable)")
	cmd.Flags().String("status", "", "Status filter, e.g. active or all")
	cmd.Flags().Bool("grouped", false, "Group mappings by their owner")
	cmd.Flags().StringArray("param", nil, "Extra query parameter as key=value")
	return cmd
}

// listParams collects the query parameters of a list command. Parameters are
// only sent when given, so that the backend defaults apply otherwise.
func listParams(cmd *cobra.Command, rt *runtime, clientScoped bool) (httpclient.Params, error) {
	params := httpclient.Params{}
	f := cmd.Flags()
	if f.Changed("skip") {
		v, _ := f.GetInt("skip")
		params["skip"] = strconv.Itoa(v)
	}
	if f.Changed("limit") {
		v, _ := f.GetInt("limit")
		params["limit"] = strconv.Itoa(v)
	}
	if v, _ := f.GetString("status"); v != "" {
		params["status"] = v
	}
	if f.Changed("grouped") {
		v, _ := f.GetBool("grouped")
		params["grouped"] = strconv.FormatBool(v)
	}
	clientID, _ := f.GetString("client-id")
	if clientID == "" && clientScoped {
		if u, ok := rt.session.User(); ok {
			clientID = u.ClientID
		}
	}
	if clientID != "" {
		params["client_id"] = clientID
	}
	extra, _ := f.GetStringArray("param")
	for _, kv := range extra {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q; expected key=value", kv)
		}
		params[k] = v
	}
	return params, nil
}

// fetchAndPrint reads the endpoint through the endpoint cache and prints its
// data.
func fetchAndPrint(cmd *cobra.Command, rt *runtime, name api.EndpointName, params httpclient.Params) error {
	if err := rt.store.Fetch(cmd.Context(), name, params); err != nil {
		return err
	}
	st, _ := rt.store.Snapshot(name)
	if st.Err != nil {
		return st.Err
	}
	return printResult(cmd, string(name), st.Data)
}

func addPayloadFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("filename", "f", "", "YAML or JSON file with the payload (- for stdin); may hold several documents")
	cmd.Flags().StringArray("set", nil, "Set a payload field as key=value (repeatable)")
}

func payloadsFromFlags(cmd *cobra.Command, rt *runtime) ([]json.RawMessage, error) {
	file, _ := cmd.Flags().GetString("filename")
	sets, _ := cmd.Flags().GetStringArray("set")
	var values map[string]string
	if cur := rt.session.Current(); cur != nil {
		values = cur.Values()
		delete(values, "session_token")
	}
	return loadPayloads(file, sets, NewTemplateContext(values))
}

func newCreateCmd(g resourceGroup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create " + g.use,
		Long: fmt.Sprintf(`Create %s from a file or from --set assignments. Files are YAML or JSON,
may contain several documents separated by ---, and may reference
{{ .ENV.NAME }} and {{ .Session.client_id }}.

Examples:
  advx %s create -f items.yaml
  advx %s create -f item.yaml --set client_id=7`, g.use, g.use, g.use),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			payloads, err := payloadsFromFlags(cmd, rt)
			if err != nil {
				return err
			}
			for _, p := range payloads {
				data, err := rt.store.Create(cmd.Context(), g.endpoint, p)
				if err != nil {
					return err
				}
				if !jsonOutput && !yamlOutput {
					printOK(cmd, "Created in %s", g.endpoint)
				}
				if err := printResult(cmd, "", data); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addPayloadFlags(cmd)
	return cmd
}

func newUpdateCmd(g resourceGroup) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update one of the " + g.use,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			payloads, err := payloadsFromFlags(cmd, rt)
			if err != nil {
				return err
			}
			if len(payloads) != 1 {
				return fmt.Errorf("update takes exactly one payload, got %d", len(payloads))
			}
			data, err := g.update(rt.api)(cmd.Context(), args[0], payloads[0])
			if err != nil {
				return err
			}
			if !jsonOutput && !yamlOutput {
				printOK(cmd, "Updated %s %s", g.endpoint, args[0])
			}
			return printResult(cmd, "", data)
		},
	}
	addPayloadFlags(cmd)
	return cmd
}

func newDeleteCmd(g resourceGroup) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID [ID...]",
		Short: "Delete " + g.use,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := g.remove(rt.api)(cmd.Context(), id); err != nil {
					return fmt.Errorf("unable to delete %s: %w", id, err)
				}
			}
			if jsonOutput {
				printJSON(cmd, map[string]any{"result": 1, "deleted": args})
			} else {
				printOK(cmd, "Deleted %s from %s", strings.Join(args, ", "), g.endpoint)
			}
			return nil
		},
	}
}

func newDashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "dashboard",
		Short:       "Dashboard statistics and activity",
		Annotations: authRequired,
	}
	for _, ep := range []struct {
		use  string
		name api.EndpointName
	}{
		{"stats", api.DashboardStats},
		{"activities", api.DashboardActivities},
	} {
		name := ep.name
		sub := &cobra.Command{
			Use:   ep.use,
			Short: "Show dashboard " + ep.use,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := getRuntime()
				if err != nil {
					return err
				}
				params, err := listParams(cmd, rt, false)
				if err != nil {
					return err
				}
				return fetchAndPrint(cmd, rt, name, params)
			},
		}
		sub.Flags().String("client-id", "", "Client to report on")
		sub.Flags().StringArray("param", nil, "Extra query parameter as key=value")
		cmd.AddCommand(sub)
	}

	widgets := &cobra.Command{Use: "widgets", Short: "Dashboard widgets"}
	widgets.AddCommand(newCreateCmd(resourceGroup{use: "widgets", endpoint: api.DashboardWidgets}))
	cmd.AddCommand(widgets)
	return cmd
}
