package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jrsteele09/storefront-session/api"
	"github.com/jrsteele09/storefront-session/broadcast"
	"github.com/jrsteele09/storefront-session/credential"
	"github.com/jrsteele09/storefront-session/internal/config"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"login", "sign in with email and password", runLogin},
	{"admin-login", "sign in to the admin console", runAdminLogin},
	{"oidc-login", "sign in through the configured identity provider", runOIDCLogin},
	{"signup", "create a customer account", runSignup},
	{"admin-signup", "create an admin account", runAdminSignup},
	{"send-verification", "email a one-time password to an admin", runSendVerification},
	{"verify", "verify an admin email with its one-time password", runVerify},
	{"logout", "end the session", runLogout},
	{"status", "show the current session", runStatus},
	{"refresh", "refresh the access token now", runRefresh},
	{"get", "GET a backend path with the session credential", runGet},
	{"watch", "print session changes made by other processes", runWatch},
}

var errUnknownCommand = errors.New("unknown command")

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: storefront <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-18s %s\n", c.name, c.summary)
	}
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	idx := slices.IndexFunc(commands, func(c command) bool { return c.name == args[0] })
	if idx < 0 {
		usage(out)
		return fmt.Errorf("%w %q", errUnknownCommand, args[0])
	}
	a, err := newApp(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer a.Close()
	if addr := cfg.GetMetricsAddr(); addr != "" {
		a.serveMetrics(ctx, addr)
	}
	return commands[idx].run(ctx, a, args[1:])
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("login", a.out)
	creds := credentialFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := a.manager.Login(ctx, *creds)
	if err != nil {
		return err
	}
	a.printLogin(res)
	return nil
}

func runAdminLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("admin-login", a.out)
	creds := credentialFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := a.manager.AdminLogin(ctx, *creds)
	if err != nil {
		return err
	}
	a.printLogin(res)
	return nil
}

func credentialFlags(fs *flag.FlagSet) *api.LoginCredentials {
	var creds api.LoginCredentials
	fs.StringVar(&creds.Email, "email", "", "account email")
	fs.StringVar(&creds.Password, "password", "", "account password")
	return &creds
}

func (a *app) printLogin(res *api.LoginSuccess) {
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", displayName(res.Identity), res.Identity.Email)
	if res.Message != "" {
		fmt.Fprintln(a.out, res.Message)
	}
}

func runSignup(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("signup", a.out)
	var data api.SignupData
	fs.StringVar(&data.FirstName, "first", "", "first name")
	fs.StringVar(&data.LastName, "last", "", "last name")
	fs.StringVar(&data.Email, "email", "", "email")
	fs.StringVar(&data.Password, "password", "", "password")
	fs.StringVar(&data.PhoneNumber, "phone", "", "phone number")
	fs.StringVar(&data.Address, "address", "", "street address")
	fs.StringVar(&data.City, "city", "", "city")
	fs.StringVar(&data.State, "state", "", "state")
	fs.StringVar(&data.Country, "country", "", "country")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := a.manager.Signup(ctx, data)
	if err != nil {
		return err
	}
	a.printEnvelope(env, "Account created")
	return nil
}

func runAdminSignup(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("admin-signup", a.out)
	var data api.AdminSignupData
	fs.StringVar(&data.FirstName, "first", "", "first name")
	fs.StringVar(&data.LastName, "last", "", "last name")
	fs.StringVar(&data.UserName, "user", "", "user name")
	fs.StringVar(&data.Email, "email", "", "email")
	fs.StringVar(&data.Password, "password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := a.manager.AdminSignup(ctx, data)
	if err != nil {
		return err
	}
	a.printEnvelope(env, "Admin account created, verify the email before signing in")
	return nil
}

func runSendVerification(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("send-verification", a.out)
	var data api.EmailVerificationData
	fs.StringVar(&data.Email, "email", "", "admin email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := a.manager.SendVerificationEmail(ctx, data)
	if err != nil {
		return err
	}
	a.printEnvelope(env, "Verification email sent")
	return nil
}

func runVerify(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("verify", a.out)
	var data api.EmailVerificationData
	fs.StringVar(&data.Email, "email", "", "admin email")
	fs.StringVar(&data.OTP, "otp", "", "one-time password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := a.manager.VerifyEmail(ctx, data)
	if err != nil {
		return err
	}
	a.printEnvelope(env, "Email verified")
	return nil
}

func (a *app) printEnvelope(env *api.Envelope, fallback string) {
	if text := env.Text(); text != "" {
		fmt.Fprintln(a.out, text)
		return
	}
	fmt.Fprintln(a.out, fallback)
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func runStatus(ctx context.Context, a *app, _ []string) error {
	rec, ok := a.manager.Record(ctx)
	if !ok {
		fmt.Fprintln(a.out, "Not signed in")
		return nil
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", displayName(rec.Identity), rec.Identity.Email)
	if rec.Identity.IsAdmin() {
		fmt.Fprintln(a.out, "Role: admin")
	}
	fmt.Fprintf(a.out, "Authenticated: %t\n", a.manager.IsAuthenticated(ctx))
	if rec.Tokens.HasExpiry() {
		expires := time.UnixMilli(rec.Tokens.ExpiresAt)
		fmt.Fprintf(a.out, "Expires: %s\n", expires.Format(time.RFC3339))
		if a.manager.NeedsRefresh(rec.Tokens) {
			fmt.Fprintln(a.out, "Refresh due")
		}
	}
	return nil
}

func runRefresh(ctx context.Context, a *app, _ []string) error {
	tokens, err := a.manager.RefreshTokens(ctx)
	if err != nil {
		return err
	}
	if tokens.HasExpiry() {
		fmt.Fprintf(a.out, "Token valid until %s\n", time.UnixMilli(tokens.ExpiresAt).Format(time.RFC3339))
		return nil
	}
	fmt.Fprintln(a.out, "Token refreshed")
	return nil
}

func runGet(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: storefront get <path>")
	}
	target := args[0]
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = a.cfg.GetAPIBaseURL() + "/" + strings.TrimPrefix(target, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Fprintln(a.out, resp.Status)
	if _, err := io.Copy(a.out, io.LimitReader(resp.Body, 1<<20)); err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	for _, target := range a.nav.History() {
		fmt.Fprintf(a.out, "Redirected to %s\n", target)
	}
	return nil
}

// runWatch reports session changes until ctx ends.
func runWatch(ctx context.Context, a *app, _ []string) error {
	unsubscribe := a.manager.Subscribe(func(ev broadcast.Event) {
		if user, ok := a.manager.CurrentUser(context.Background()); ok {
			fmt.Fprintf(a.out, "%s: signed in as %s\n", ev.Name, user.Email)
			return
		}
		fmt.Fprintf(a.out, "%s: signed out\n", ev.Name)
	})
	defer unsubscribe()
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Watching for session changes")
	<-ctx.Done()
	return nil
}

func displayName(id credential.Identity) string {
	name := strings.TrimSpace(id.FirstName + " " + id.LastName)
	if name == "" {
		name = id.UserName
	}
	if name == "" {
		name = id.Email
	}
	return name
}
