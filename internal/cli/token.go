package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/marketagent/internal/token"
)

// TokenInfo — расшифровка access-токена.
type TokenInfo struct {
	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Remaining string    `json:"remaining"`
	Valid     bool      `json:"valid"`
	Error     string    `json:"error,omitempty"`
}

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and manage agent credentials",
	}

	cmd.AddCommand(
		newTokenInspectCmd(opts),
		newTokenStatusCmd(opts),
		newTokenSetCmd(opts),
		newTokenClearCmd(opts),
	)
	return cmd
}

func newTokenInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Decode a token payload locally (no signature check)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			info, err := InspectToken(token.NewValidator(), args[0])
			if err != nil {
				return err
			}

			exp := ""
			if !info.ExpiresAt.IsZero() {
				exp = info.ExpiresAt.Format(time.RFC3339)
			}

			opts.output().Fields([][2]string{
				{"User", info.UserID},
				{"Role", info.Role},
				{"Expires", exp},
				{"Remaining", info.Remaining},
				{"Valid", fmt.Sprint(info.Valid)},
				{"Error", info.Error},
			}, info)
			return nil
		},
	}
}

// InspectToken декодирует токен. Ошибка возвращается только для
// структурно некорректного токена; истёкший токен описывается в TokenInfo.
func InspectToken(v *token.Validator, raw string) (TokenInfo, error) {
	claims, err := v.DecodePayload(raw)
	if err != nil {
		return TokenInfo{}, err
	}

	info := TokenInfo{
		UserID:    token.UserID(claims),
		Role:      token.Role(claims),
		Remaining: v.FormatTimeRemaining(claims),
		Valid:     true,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time.UTC()
	}

	if _, err := v.Validate(raw); err != nil {
		info.Valid = false
		info.Error = err.Error()
	}
	return info, nil
}

func newTokenStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the credentials stored in the configured token store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			session := token.NewSession(token.SessionConfig{
				Store:            store,
				RefreshThreshold: cfg.Token.RefreshThreshold,
				Logger:           opts.logger(cfg),
			})
			st := session.Status(cmd.Context())

			opts.output().Fields([][2]string{
				{"Authenticated", fmt.Sprint(st.Authenticated)},
				{"User", st.UserID},
				{"Role", st.Role},
				{"Expires in", st.ExpiresIn},
				{"Expiring soon", fmt.Sprint(st.ExpiringSoon)},
				{"Refresh token", fmt.Sprint(st.HasRefresh)},
			}, st)
			return nil
		},
	}
}

func newTokenSetCmd(opts *options) *cobra.Command {
	var access, refresh string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store credentials obtained from the marketplace login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if access == "" && refresh == "" {
				return errors.New("at least one of --access or --refresh is required")
			}
			if access != "" && !token.NewValidator().HasValidStructure(access) {
				return errors.New(token.MsgInvalidFormat)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Save(cmd.Context(), token.Credentials{AccessToken: access, RefreshToken: refresh}); err != nil {
				return err
			}
			opts.output().Success(fmt.Sprintf("Credentials saved to %s store", cfg.Token.Store))
			return nil
		},
	}

	cmd.Flags().StringVar(&access, "access", "", "Access token")
	cmd.Flags().StringVar(&refresh, "refresh", "", "Refresh token")
	return cmd
}

func newTokenClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove stored credentials (logout)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			opts.output().Success("Credentials cleared")
			return nil
		},
	}
}
