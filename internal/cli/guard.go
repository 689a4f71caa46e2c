package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// annotationRequiresAuth marks commands that refuse to run without a valid
// session. It is inherited by subcommands.
const annotationRequiresAuth = "requiresAuth"

var ErrNotSignedIn = errors.New("not signed in or session expired; sign in with \"advx login\"")

var authRequired = map[string]string{annotationRequiresAuth: "true"}

func requiresAuth(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationRequiresAuth] == "true" {
			return true
		}
	}
	return false
}
