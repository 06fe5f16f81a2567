package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/imamik/hubspoke/internal/config"
)

// Keychain access and the token prompt. Replaced in tests.
var (
	storeToken  = config.StoreToken
	deleteToken = config.DeleteToken
	lookupToken = config.LookupToken

	promptToken = func(ctx context.Context) (string, error) {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return "", errors.New("no terminal attached: pass the token with --token")
		}
		var token string
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Hetzner Cloud API token").
				Description("Read & Write token from the Hetzner console security settings.").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token must not be empty")
					}
					return nil
				}).
				Value(&token),
		))
		if err := form.RunWithContext(ctx); err != nil {
			return "", err
		}
		return strings.TrimSpace(token), nil
	}
)

// TokenSet stores the Hetzner token in the OS keychain, prompting when
// token is empty.
func TokenSet(ctx context.Context, token string) error {
	if token == "" {
		var err error
		if token, err = promptToken(ctx); err != nil {
			return err
		}
	}
	if err := storeToken(token); err != nil {
		return err
	}
	_, err := fmt.Fprintln(stdout, statusStyle("completed").Render("  Token stored in keychain."))
	return err
}

// TokenDelete removes the stored token.
func TokenDelete() error {
	err := deleteToken()
	if errors.Is(err, config.ErrTokenNotFound) {
		_, err = fmt.Fprintln(stdout, dimStyle.Render("  No token stored."))
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, "  Token removed from keychain.")
	return err
}

// TokenStatus reports where the token would be read from.
func TokenStatus() error {
	var source string
	switch {
	case os.Getenv("HCLOUD_TOKEN") != "":
		source = "HCLOUD_TOKEN environment variable"
	case lookupToken() != "":
		source = "OS keychain (service " + config.KeyringService + ")"
	}
	if source == "" {
		_, err := fmt.Fprintln(stdout, statusStyle("failed").Render("  No token configured.")+
			dimStyle.Render(" Run 'hubspoke token set'."))
		return err
	}
	_, err := fmt.Fprintln(stdout, "  Token found in "+source+".")
	return err
}
