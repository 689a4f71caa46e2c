package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/advancex/advx/internal/api"
	"github.com/advancex/advx/internal/common/httpclient"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newLoginCmd creates and returns a new login command
func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the backend",
		Long: `Sign in to the backend and store the session locally.
The session token and its expiry are kept in the session file and sent with
every later request until they expire or "advx logout" is run.

If the account requires a one-time password, the command prints the temporary
token to pass to "advx verify-otp".

Examples:
  advx login --email me@example.com            # prompts for the password
  advx login --google                          # prints the Google sign-in URL
  advx login --google-callback 'code=...&state=...'`,
		RunE: runLogin,
	}

	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Password (prompted for when omitted)")
	cmd.Flags().Bool("google", false, "Print the Google sign-in URL")
	cmd.Flags().String("google-callback", "", "Complete Google sign-in with the callback query string or URL")
	return cmd
}

// runLogin handles the login command execution
func runLogin(cmd *cobra.Command, args []string) error {
	rt, err := getRuntime()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if google, _ := cmd.Flags().GetBool("google"); google {
		u, _, err := rt.api.Auth.GoogleLogin(ctx)
		if err != nil {
			return fmt.Errorf("google sign-in failed: %w", err)
		}
		if u == "" {
			return errors.New("server did not return a Google sign-in URL")
		}
		if jsonOutput {
			printJSON(cmd, map[string]string{"url": u})
		} else {
			cmd.Printf("Open this URL to sign in with Google:\n%s\n", u)
			cmd.Println("Then run: advx login --google-callback '<callback query>'")
		}
		return nil
	}

	if callback, _ := cmd.Flags().GetString("google-callback"); callback != "" {
		query, err := callbackQuery(callback)
		if err != nil {
			return err
		}
		resp, err := rt.api.Auth.GoogleCallback(ctx, query)
		if err != nil {
			return fmt.Errorf("google sign-in failed: %w", err)
		}
		return recordLogin(cmd, rt, resp)
	}

	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		if u, ok := rt.session.User(); ok {
			email = u.Email
		}
	}
	passwd, _ := cmd.Flags().GetString("password")
	if passwd == "" {
		passwd, err = promptPassword(cmd)
		if err != nil {
			return err
		}
	}

	resp, err := rt.api.Auth.Login(ctx, api.Credentials{Email: email, Password: passwd})
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	return recordLogin(cmd, rt, resp)
}

// recordLogin stores the session carried by resp, or explains the pending
// one-time-password step.
func recordLogin(cmd *cobra.Command, rt *runtime, resp *httpclient.Response) error {
	if resp.Get("session_token").String() == "" {
		if tmp := resp.Get("token").String(); tmp != "" {
			if jsonOutput {
				printJSON(cmd, map[string]any{
					"status":       "otp_required",
					"token":        tmp,
					"message":      resp.Get("message").String(),
					"otp_required": true,
				})
				return nil
			}
			cmd.Println("A one-time password was sent to your email.")
			cmd.Printf("Complete sign-in with: advx verify-otp --token %s --otp <code>\n", tmp)
			return nil
		}
	}

	if err := rt.session.RecordSession(resp.Body); err != nil {
		return fmt.Errorf("login response was not accepted: %w", err)
	}

	s := rt.session.Current()
	if jsonOutput {
		printJSON(cmd, map[string]any{
			"status":     "success",
			"message":    "Login successful",
			"email":      s.User.Email,
			"client_id":  s.User.ClientID,
			"expires_at": s.ExpiresAt.Format(time.RFC3339),
		})
		return nil
	}
	printOK(cmd, "Login successful")
	if s.User.Email != "" {
		cmd.Printf("Signed in as: %s\n", s.User.Email)
	}
	cmd.Printf("Session expires at: %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("unable to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password provided. Use --password or enter it when prompted")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// callbackQuery accepts either the full callback URL or just its query.
func callbackQuery(s string) (httpclient.Params, error) {
	raw := s
	if u, err := url.Parse(s); err == nil && u.RawQuery != "" {
		raw = u.RawQuery
	}
	values, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return nil, fmt.Errorf("invalid callback query: %w", err)
	}
	params := httpclient.Params{}
	for k := range values {
		params[k] = values.Get(k)
	}
	if params["code"] == "" {
		return nil, errors.New("callback query has no code")
	}
	return params, nil
}

func newVerifyOTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-otp",
		Short: "Complete a sign-in with a one-time password",
		Long: `Complete a sign-in that requires a one-time password.

Examples:
  advx verify-otp --token TMP_TOKEN --otp 123456
  advx verify-otp --token TMP_TOKEN --resend`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			token, _ := cmd.Flags().GetString("token")
			if resend, _ := cmd.Flags().GetBool("resend"); resend {
				if _, err := rt.api.Auth.ResendOTP(cmd.Context(), token); err != nil {
					return fmt.Errorf("unable to resend OTP: %w", err)
				}
				printOK(cmd, "A new one-time password was sent")
				return nil
			}
			otp, _ := cmd.Flags().GetString("otp")
			resp, err := rt.api.Auth.VerifyOTP(cmd.Context(), api.OTPRequest{Token: token, OTP: otp})
			if err != nil {
				return fmt.Errorf("OTP verification failed: %w", err)
			}
			return recordLogin(cmd, rt, resp)
		},
	}
	cmd.Flags().String("token", "", "Temporary token printed by \"advx login\"")
	cmd.Flags().String("otp", "", "One-time password")
	cmd.Flags().Bool("resend", false, "Send a new one-time password")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out on the server and remove the local session",
		Long: `Sign out on the server and remove the local session. The local session is
removed even when the server cannot be reached.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			rt.session.Logout(ctx)
			if jsonOutput {
				printJSON(cmd, map[string]int{"result": 1})
			}
			return nil
		},
	}
}
