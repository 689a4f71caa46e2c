package cli

import (
	"time"

	"github.com/advancex/advx/internal/session"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the backend and session in use",
		Long: `Show the configured backend, whether a valid session is stored, the signed-in
user and when the session expires.

Examples:
  advx status
  advx status -j`,
		RunE: getStatus,
	}
}

// getStatus reports the local session without contacting the server
func getStatus(cmd *cobra.Command, args []string) error {
	rt, err := getRuntime()
	if err != nil {
		return err
	}
	st := rt.session.State()
	cur := rt.session.Current()

	if jsonOutput {
		value := map[string]any{
			"server":    rt.cfg.GetServerURL(),
			"state":     st.String(),
			"signed_in": st == session.StateSignedIn,
		}
		if cur != nil {
			value["email"] = cur.User.Email
			value["client_id"] = cur.User.ClientID
			value["username"] = cur.User.Name
			value["expires_at"] = cur.ExpiresAt.Format(time.RFC3339)
			if c, ok := session.InspectToken(cur.Token); ok && c.Subject != "" {
				value["subject"] = c.Subject
			}
		}
		printJSON(cmd, map[string]any{
			"result":      1,
			"version_cli": cliVersion,
			"value":       value,
		})
		return nil
	}

	cmd.Printf("advx CLI %s\n", cliVersion)
	cmd.Printf("Server: %s\n", rt.cfg.GetServerURL())
	if cur == nil {
		cmd.Println("Session: signed out")
		cmd.Println("Sign in with \"advx login\"")
		return nil
	}
	okLabel.Fprintln(cmd.OutOrStdout(), "Session: signed in")
	if cur.User.Email != "" {
		cmd.Printf("User: %s\n", cur.User.Email)
	}
	if cur.User.Name != "" {
		cmd.Printf("Name: %s\n", cur.User.Name)
	}
	if cur.User.ClientID != "" {
		cmd.Printf("Client ID: %s\n", cur.User.ClientID)
	}
	remaining := time.Until(cur.ExpiresAt).Truncate(time.Second)
	cmd.Printf("Expires: %s (in %s)\n", cur.ExpiresAt.Local().Format("2006-01-02 15:04:05 MST"), remaining)
	if c, ok := session.InspectToken(cur.Token); ok && c.Subject != "" {
		cmd.Printf("Token subject: %s\n", c.Subject)
	}
	return nil
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "whoami",
		Short:       "Fetch the signed-in profile from the server",
		Annotations: authRequired,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			resp, err := rt.api.Auth.Profile(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, "", resp.Body)
		},
	}
}
