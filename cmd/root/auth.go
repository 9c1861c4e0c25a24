package root

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/auth/handshake"
	"github.com/docker/agentcall/pkg/config"
	"github.com/docker/agentcall/pkg/loader"
	"github.com/docker/agentcall/pkg/state"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Complete credential handshakes outside of a turn",
		Long: `Complete the credential handshake of a tool ahead of time, so that
dispatching its calls does not stop at a credential request.

Tools are looked up in the config only; no server is contacted.`,
	}

	cmd.AddCommand(newAuthURLCmd())
	cmd.AddCommand(newAuthCompleteCmd())

	return cmd
}

func newAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <config> <tool>",
		Short: "Print the authorization URL of a tool",
		Args:  cobra.ExactArgs(2),
		RunE:  runAuthURLCommand,
	}
}

type authCompleteFlags struct {
	accessToken string
	responseURI string
}

func newAuthCompleteCmd() *cobra.Command {
	var flags authCompleteFlags

	cmd := &cobra.Command{
		Use:   "complete <config> <tool>",
		Short: "Store the credential of a tool",
		Long: `Store the credential of a tool.

With --response-uri, the redirect the provider sent the browser to after
"auth url" is exchanged for a token. With --access-token, the token is stored
as is. Without either, the credential declared in the config is stored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&flags.accessToken, "access-token", "", "Token to store for the tool")
	cmd.Flags().StringVar(&flags.responseURI, "response-uri", "", "Redirect URI received after authorizing")
	cmd.MarkFlagsMutuallyExclusive("access-token", "response-uri")

	return cmd
}

func pendingAuthKey(cfg auth.Config) string {
	return "pendingauth:" + cfg.Key()
}

// openToolAuth loads the auth block of tool and the state store credentials
// are kept in.
func openToolAuth(ctx context.Context, ref, tool string) (auth.Config, state.Store, error) {
	cfg, parentDir, err := loadConfig(ctx, ref)
	if err != nil {
		return auth.Config{}, nil, err
	}

	authCfg, ok := cfg.ToolAuth(tool)
	if !ok {
		return auth.Config{}, nil, fmt.Errorf("tool %q does not require a credential", tool)
	}

	if cfg.State.Backend == config.BackendMemory {
		slog.Warn("The state backend is memory; the credential will not outlive this command")
	}

	store, err := loader.OpenStore(ctx, cfg.State, parentDir)
	if err != nil {
		return auth.Config{}, nil, err
	}
	return *authCfg, store, nil
}

func closeStore(store state.Store) {
	if c, ok := store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Error("Failed to close state store", "error", err)
		}
	}
}

func runAuthURLCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, store, err := openToolAuth(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	defer closeStore(store)

	var req auth.Config
	if cfg.Scheme.Interactive() {
		req, err = handshake.New(store).GenerateAuthRequest(cfg)
		if err != nil {
			return err
		}
	}
	if req.ExchangedCredential == nil || req.ExchangedCredential.OAuth2 == nil || req.ExchangedCredential.OAuth2.AuthURI == "" {
		kind := string(cfg.Scheme.Type)
		if cfg.RawCredential != nil && cfg.RawCredential.Type != "" {
			kind = string(cfg.RawCredential.Type)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s uses %s credentials, which need no authorization; run \"auth complete\" to store them\n", args[1], kind)
		return nil
	}
	if err := state.SetJSON(ctx, store, pendingAuthKey(cfg), req); err != nil {
		return fmt.Errorf("saving pending request: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), req.ExchangedCredential.OAuth2.AuthURI)
	return nil
}

func (f *authCompleteFlags) run(cmd *cobra.Command, ref, tool string) error {
	ctx := cmd.Context()

	cfg, store, err := openToolAuth(ctx, ref, tool)
	if err != nil {
		return err
	}
	defer closeStore(store)

	pendingKey := pendingAuthKey(cfg)
	response := cfg.Clone()

	switch {
	case f.responseURI != "":
		if !cfg.Scheme.Interactive() {
			return fmt.Errorf("%s credentials have no redirect to complete", cfg.Scheme.Type)
		}
		pending, err := state.GetJSON[auth.Config](ctx, store, pendingKey)
		if errors.Is(err, state.ErrNotFound) {
			return errors.New(`no pending authorization; run "auth url" first`)
		} else if err != nil {
			return err
		}
		if pending.ExchangedCredential == nil || pending.ExchangedCredential.OAuth2 == nil {
			return errors.New("pending authorization is incomplete")
		}
		response = pending
		response.ExchangedCredential.OAuth2.AuthResponseURI = f.responseURI
	case f.accessToken != "":
		response.ExchangedCredential = tokenCredential(cfg, f.accessToken)
	}

	if err := handshake.New(store).ParseAndStoreAuthResponse(ctx, response); err != nil {
		return err
	}
	if err := store.Delete(ctx, pendingKey); err != nil && !errors.Is(err, state.ErrNotFound) {
		slog.Warn("Failed to clear pending authorization", "error", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored credential for %s\n", tool)
	return nil
}

// tokenCredential shapes token the way the scheme of cfg presents it.
func tokenCredential(cfg auth.Config, token string) *auth.Credential {
	switch {
	case cfg.Scheme.Interactive():
		typ := auth.CredentialOAuth2
		if cfg.RawCredential != nil && cfg.RawCredential.Type != "" {
			typ = cfg.RawCredential.Type
		}
		return &auth.Credential{Type: typ, OAuth2: &auth.OAuth2Auth{AccessToken: token}}
	case cfg.Scheme.Type == auth.SchemeAPIKey:
		return &auth.Credential{Type: auth.CredentialAPIKey, APIKey: token}
	default:
		return auth.BearerCredential(token)
	}
}
